package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/zkdrop/internal/keytransport"
)

// info prints the public view of a share link without downloading.
func (a *App) info(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: info takes exactly one link", ErrUsage)
	}
	link, err := keytransport.ParseShareLink(args[0])
	if err != nil {
		return err
	}
	client, err := a.newClient(link.BaseURL)
	if err != nil {
		return err
	}

	info, err := client.Info(ctx, link.ShortURL)
	if err != nil {
		return describeError(err)
	}

	m := info.Metadata
	fmt.Fprintf(a.out, "short url:     %s\n", info.ShortURL)
	fmt.Fprintf(a.out, "size:          %d bytes encrypted\n", m.EncryptedSize)
	fmt.Fprintf(a.out, "uploaded:      %s\n", m.UploadedAt.Local().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(a.out, "expires:       %s\n", info.ExpiresAt.Local().Format("2006-01-02 15:04 MST"))
	if info.RemainingDownloads != nil {
		fmt.Fprintf(a.out, "downloads:     %d used, %d left\n", info.DownloadCount, *info.RemainingDownloads)
	} else {
		fmt.Fprintf(a.out, "downloads:     %d used, unlimited\n", info.DownloadCount)
	}
	if m.IsPasswordDerived() && m.KDF != nil {
		fmt.Fprintf(a.out, "key:           password (%s, %d iterations)\n", m.KDF.Algorithm, m.KDF.Iterations)
	} else {
		fmt.Fprintf(a.out, "key:           in link (present: %t)\n", link.HasKey())
	}
	fmt.Fprintf(a.out, "access:        password required: %t\n", info.RequiresPassword)
	return nil
}

// delete removes an upload made with the configured token.
func (a *App) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	yes := fs.Bool("y", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: delete takes exactly one link", ErrUsage)
	}

	link, err := keytransport.ParseShareLink(fs.Arg(0))
	if err != nil {
		return err
	}
	if !*yes && !Confirm(a.reader, "Delete "+link.ShortURL+"?", a.out) {
		fmt.Fprintln(a.out, "cancelled")
		return nil
	}

	client, err := a.newClient(link.BaseURL)
	if err != nil {
		return err
	}
	if err := client.Delete(ctx, link.ShortURL); err != nil {
		return describeError(err)
	}
	fmt.Fprintln(a.out, "deleted", link.ShortURL)
	return nil
}
