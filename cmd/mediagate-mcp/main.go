package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/mediagate/models"
)

func main() {
	apiURL := strings.TrimRight(os.Getenv("MEDIAGATE_API_URL"), "/")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}

	s := server.NewMCPServer(
		"mediagate",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	extractTool := mcp.NewTool("extract_media",
		mcp.WithDescription("Extract downloadable media (video, audio, images) from a social media post URL. Supports Facebook, Instagram, Twitter/X, TikTok, YouTube and Weibo. Counts against the caller's guest quota unless the URL was already looked up recently."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the post"),
		),
	)
	s.AddTool(extractTool, handleExtractMedia(apiURL))

	probeTool := mcp.NewTool("probe_media_size",
		mcp.WithDescription("Look up the size and content type of a media URL returned by extract_media without downloading it."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("A media URL from extract_media formats"),
		),
		mcp.WithString("platform",
			mcp.Description("Platform the media belongs to, for CDNs shared across platforms"),
			mcp.Enum("facebook", "instagram", "twitter", "tiktok", "youtube", "weibo"),
		),
	)
	s.AddTool(probeTool, handleProbeMedia(apiURL))

	statusTool := mcp.NewTool("cookie_status",
		mcp.WithDescription("Report which platforms currently have healthy authenticated sessions for private or login-gated posts."),
	)
	s.AddTool(statusTool, handleCookieStatus(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiDo sends a request to the mediagate API and returns the response.
// The caller closes the body.
func apiDo(ctx context.Context, client *http.Client, method, endpoint string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	return resp, nil
}

func handleExtractMedia(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 90 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		postURL, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		resp, err := apiDo(ctx, client, http.MethodPost, apiURL+"/api/playground", models.PlaygroundRequest{URL: postURL})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		defer resp.Body.Close()

		var pr models.PlaygroundResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !pr.Success {
			errMsg := "extraction failed"
			if pr.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", pr.Error.Code, pr.Error.Message)
			}
			if pr.RateLimit.ResetIn > 0 {
				errMsg += fmt.Sprintf(" (quota resets in %ds)", pr.RateLimit.ResetIn)
			}
			return mcp.NewToolResultError(errMsg), nil
		}
		if pr.Data == nil {
			return mcp.NewToolResultError("extraction returned no data"), nil
		}

		return mcp.NewToolResultText(formatResult(pr)), nil
	}
}

func formatResult(pr models.PlaygroundResponse) string {
	d := pr.Data
	var sb strings.Builder
	fmt.Fprintf(&sb, "Platform: %s\nSource: %s\n", d.Platform, d.SourceURL)
	if d.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", d.Title)
	}
	if d.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", d.Author)
	}
	if d.Thumbnail != "" {
		fmt.Fprintf(&sb, "Thumbnail: %s\n", d.Thumbnail)
	}
	fmt.Fprintf(&sb, "\n%d format(s):\n", len(d.Formats))
	for i, f := range d.Formats {
		fmt.Fprintf(&sb, "  [%d] %s %s", i+1, f.Type, f.Quality)
		if f.ItemID != "" {
			fmt.Fprintf(&sb, " item=%s", f.ItemID)
		}
		if f.IsHLS {
			sb.WriteString(" (HLS)")
		}
		fmt.Fprintf(&sb, "\n      %s\n", f.URL)
	}
	fmt.Fprintf(&sb, "\n---\nQuota: %d/%d remaining", pr.RateLimit.Remaining, pr.RateLimit.Limit)
	if pr.Cached {
		sb.WriteString(" (cached result)")
	}
	return sb.String()
}

func handleProbeMedia(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 45 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mediaURL, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		q := url.Values{"url": {mediaURL}}
		if p := request.GetString("platform", ""); p != "" {
			q.Set("platform", p)
		}
		resp, err := apiDo(ctx, client, http.MethodHead, apiURL+"/api/v1/proxy?"+q.Encode(), nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("probe failed with status %d", resp.StatusCode)), nil
		}

		size := resp.Header.Get("X-Content-Length")
		if size == "" {
			size = "unknown"
		}
		return mcp.NewToolResultText(fmt.Sprintf("Size: %s bytes\nContent-Type: %s\nRanges: %s",
			size, resp.Header.Get("Content-Type"), resp.Header.Get("Accept-Ranges"))), nil
	}
}

func handleCookieStatus(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 15 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := apiDo(ctx, client, http.MethodGet, apiURL+"/api/status/cookies", nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		defer resp.Body.Close()

		var status models.CookieStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		names := make([]string, 0, len(status.Platforms))
		for p := range status.Platforms {
			names = append(names, string(p))
		}
		sort.Strings(names)

		var sb strings.Builder
		for _, name := range names {
			h := status.Platforms[models.Platform(name)]
			state := "unavailable"
			if h.Available {
				state = "available"
			}
			fmt.Fprintf(&sb, "%-10s %s (%d healthy)\n", name, state, h.HealthyCount)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
