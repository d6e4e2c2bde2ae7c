package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"playrunaddict/internal/config"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/watch"
)

// requestsPerSecond keeps the client comfortably under the per-user Drive
// API quota.
const requestsPerSecond = 8

// Client is a rate-limited Drive v3 wrapper scoped to the watched folder.
type Client struct {
	svc      *drive.Service
	limiter  *rate.Limiter
	logger   *slog.Logger
	folderID string
	pageSize int64
}

// New builds a Drive client from the configured credentials. An OAuth
// client credentials file plus a stored token takes precedence; otherwise
// the credentials file is handed to the SDK directly (service accounts,
// application default credentials).
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	svc, err := newService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Client{
		svc:      svc,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		logger:   logging.NewComponentLogger(logger, "gdrive"),
		folderID: cfg.Drive.FolderID,
		pageSize: cfg.Drive.PageSize,
	}, nil
}

func newService(ctx context.Context, cfg *config.Config) (*drive.Service, error) {
	credBytes, readErr := os.ReadFile(cfg.Drive.CredentialsFile)
	if readErr != nil {
		return drive.NewService(ctx, option.WithScopes(drive.DriveScope))
	}

	if oauthCfg, err := google.ConfigFromJSON(credBytes, drive.DriveScope); err == nil {
		if token, tokenErr := readToken(cfg.Drive.TokenFile); tokenErr == nil {
			return drive.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, token)))
		}
	}

	return drive.NewService(ctx,
		option.WithCredentialsFile(cfg.Drive.CredentialsFile),
		option.WithScopes(drive.DriveScope))
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	token := &oauth2.Token{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return token, nil
}

const listingFields = "nextPageToken, files(id, name, mimeType, headRevisionId, modifiedTime)"

// ListPlaylists returns the current listing of the watched folder. MIME
// filtering happens in the snapshot layer so the listing stays reusable
// for deletion tracking.
func (c *Client) ListPlaylists(ctx context.Context) ([]watch.SourceFile, error) {
	var files []watch.SourceFile
	pageToken := ""
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		call := c.svc.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", c.folderID)).
			Fields(listingFields).
			PageSize(c.pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list folder %s: %w", c.folderID, err)
		}
		for _, file := range page.Files {
			files = append(files, toSourceFile(file))
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.logger.DebugContext(ctx, "folder listed", logging.Int("files", len(files)))
	return files, nil
}

// DownloadString fetches a file's content as text.
func (c *Client) DownloadString(ctx context.Context, fileID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read file %s: %w", fileID, err)
	}
	return string(data), nil
}

// HeadRevision fetches the current head revision id for a file.
func (c *Client) HeadRevision(ctx context.Context, fileID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	file, err := c.svc.Files.Get(fileID).Fields("headRevisionId").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("head revision for %s: %w", fileID, err)
	}
	return file.HeadRevisionId, nil
}

// FileForResource resolves a push notification resource id to listing
// metadata, reporting false for files that no longer exist.
func (c *Client) FileForResource(ctx context.Context, resourceID string) (watch.SourceFile, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return watch.SourceFile{}, false, err
	}

	file, err := c.svc.Files.Get(resourceID).
		Fields("id, name, mimeType, headRevisionId, modifiedTime, trashed").
		Context(ctx).Do()
	if err != nil {
		if IsNotFound(err) {
			return watch.SourceFile{}, false, nil
		}
		return watch.SourceFile{}, false, fmt.Errorf("get file %s: %w", resourceID, err)
	}
	if file.Trashed {
		return toSourceFile(file), false, nil
	}
	return toSourceFile(file), true, nil
}

// Upload creates a fresh Drive file from a local path and grants
// anyone-with-the-link read access so podcast clients can fetch it.
func (c *Client) Upload(ctx context.Context, localPath, name, mimeType string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	source, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer source.Close()

	file, err := c.svc.Files.Create(&drive.File{Name: name}).
		Media(source, googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	if err := c.shareWithAnyone(ctx, file.Id); err != nil {
		return "", err
	}

	c.logger.InfoContext(ctx, "file uploaded",
		logging.String("name", name),
		logging.String("remote_id", file.Id))
	return file.Id, nil
}

// UploadString writes text content to Drive, updating the existing file in
// place when an id is provided so feed consumers keep a stable URL.
func (c *Client) UploadString(ctx context.Context, existingID, name, mimeType, content string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reader := strings.NewReader(content)
	if existingID != "" {
		_, err := c.svc.Files.Update(existingID, &drive.File{Name: name}).
			Media(reader, googleapi.ContentType(mimeType)).
			Context(ctx).Do()
		if err != nil && !IsNotFound(err) {
			return "", fmt.Errorf("update %s: %w", name, err)
		}
		if err == nil {
			return existingID, nil
		}
		// File vanished between runs; fall through to a fresh create.
		reader = strings.NewReader(content)
	}

	file, err := c.svc.Files.Create(&drive.File{Name: name}).
		Media(reader, googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if err := c.shareWithAnyone(ctx, file.Id); err != nil {
		return "", err
	}
	return file.Id, nil
}

// FindByName locates a file by exact name in the watched folder's Drive,
// used to rediscover the feed document after a restart.
func (c *Client) FindByName(ctx context.Context, name string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	page, err := c.svc.Files.List().
		Q(fmt.Sprintf("name = '%s' and trashed = false", strings.ReplaceAll(name, "'", `\'`))).
		Fields("files(id)").
		PageSize(1).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("find %s: %w", name, err)
	}
	if len(page.Files) == 0 {
		return "", nil
	}
	return page.Files[0].Id, nil
}

// Delete removes a Drive file. Missing files are treated as already
// deleted.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := c.svc.Files.Delete(fileID).Context(ctx).Do(); err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete file %s: %w", fileID, err)
	}
	return nil
}

func (c *Client) shareWithAnyone(ctx context.Context, fileID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.svc.Permissions.Create(fileID, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("share file %s: %w", fileID, err)
	}
	return nil
}

// IsNotFound reports whether a Drive API error is a 404.
func IsNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

func toSourceFile(file *drive.File) watch.SourceFile {
	modified, _ := time.Parse(time.RFC3339, file.ModifiedTime)
	return watch.SourceFile{
		ID:             file.Id,
		Name:           file.Name,
		MimeType:       file.MimeType,
		HeadRevisionID: file.HeadRevisionId,
		ModifiedTime:   modified,
	}
}
