package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxPhotoBytes = 20 << 20

// FileDownloader fetches uploaded files through the Bot API file endpoint.
type FileDownloader struct {
	api    *tgbotapi.BotAPI
	client *http.Client
}

func NewFileDownloader(api *tgbotapi.BotAPI, client *http.Client) *FileDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &FileDownloader{api: api, client: client}
}

// Download returns the file contents and its extension.
func (d *FileDownloader) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	url, err := d.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download file %s: status %d", fileID, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read file %s: %w", fileID, err)
	}

	ext := strings.TrimPrefix(path.Ext(url), ".")
	if ext == "" {
		ext = "jpg"
	}
	return data, ext, nil
}
