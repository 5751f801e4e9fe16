package cli

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/dmitrijs2005/zkdrop/internal/client/api"
	"github.com/dmitrijs2005/zkdrop/internal/client/config"
)

// FileAPI is the part of api.Client the commands use.
type FileAPI interface {
	Upload(ctx context.Context, req api.UploadRequest, blob []byte) (*api.UploadResponse, error)
	Info(ctx context.Context, shortURL string) (*api.FileInfo, error)
	Download(ctx context.Context, shortURL, accessPassword string) (*api.Download, error)
	Delete(ctx context.Context, shortURL string) error
}

type App struct {
	config *config.Config
	reader *bufio.Reader
	out    io.Writer

	// newClient returns the API client for a server root URL. Downloads
	// talk to the server named in the link, not the configured one.
	newClient func(baseURL string) (FileAPI, error)
}

func NewApp(c *config.Config) *App {
	a := &App{config: c, reader: bufio.NewReader(os.Stdin), out: os.Stdout}
	a.newClient = func(baseURL string) (FileAPI, error) {
		return api.New(baseURL, c.Token, c.RequestTimeout)
	}
	return a
}
