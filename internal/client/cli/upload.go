package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/zkdrop/internal/client/api"
	"github.com/dmitrijs2005/zkdrop/internal/client/envelope"
	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/cryptox"
	"github.com/dmitrijs2005/zkdrop/internal/keytransport"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
)

type uploadOptions struct {
	path         string
	ttl          string
	maxDownloads int64
	usePassword  bool
	kdf          string
	withAccess   bool
}

func (a *App) parseUploadArgs(args []string) (*uploadOptions, error) {
	o := &uploadOptions{}

	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.ttl, "ttl", a.config.DefaultTTL, "lifetime: 1h, 24h, 7d, 30d or never")
	fs.Int64Var(&o.maxDownloads, "max", 0, "download limit, 0 for unlimited")
	fs.BoolVar(&o.usePassword, "password", false, "derive the key from a password instead of embedding it in the link")
	fs.StringVar(&o.kdf, "kdf", cryptox.KDFPBKDF2SHA256, "key derivation function for -password")
	fs.BoolVar(&o.withAccess, "access", false, "protect the download with an access password")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%w: upload takes exactly one file", ErrUsage)
	}
	if o.maxDownloads < 0 {
		return nil, fmt.Errorf("%w: -max must not be negative", ErrUsage)
	}
	o.path = fs.Arg(0)
	return o, nil
}

// upload encrypts a local file and prints its share link.
func (a *App) upload(ctx context.Context, args []string) error {
	o, err := a.parseUploadArgs(args)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(o.path)
	if err != nil {
		return err
	}
	plaintext, err := envelope.Pack(filepath.Base(o.path), detectMIMEType(o.path, content), content)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	key, kdf, err := a.uploadKey(o)
	if err != nil {
		return err
	}
	defer key.Wipe()

	sealed, err := cryptox.Encrypt(plaintext, key)
	if err != nil {
		return err
	}
	blob := sealed.Blob()

	kd := keytransport.KeyData{IsPasswordDerived: kdf != nil, Key: key}
	req := api.UploadRequest{
		Metadata: models.PublicMetadata{
			Algorithm:     cryptox.AlgorithmAES256GCM,
			IV:            sealed.IV,
			KeyHint:       kd.Hint(),
			KDF:           kdf,
			EncryptedSize: int64(len(blob)),
			ContentType:   common.GenericContentType,
		},
		KeyData:  api.KeyData{IsPasswordDerived: kd.IsPasswordDerived},
		TTLClass: o.ttl,
	}
	if kdf != nil {
		req.KeyData.Salt = kdf.Salt
		kd.Salt = kdf.Salt
	}
	if o.maxDownloads > 0 {
		req.MaxDownloads = &o.maxDownloads
	}
	if o.withAccess {
		pw, err := GetNewPassword(a.out, "Access password")
		if err != nil {
			return err
		}
		req.AccessPassword = string(pw)
		common.WipeByteArray(pw)
	}

	client, err := a.newClient(a.config.ServerURL)
	if err != nil {
		return err
	}
	res, err := client.Upload(ctx, req, blob)
	if err != nil {
		return describeError(err)
	}

	link, err := completeLink(res, kd)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, link)
	fmt.Fprintf(a.out, "expires: %s\n", res.ExpiresAt.Local().Format("2006-01-02 15:04 MST"))
	if o.maxDownloads > 0 {
		fmt.Fprintf(a.out, "downloads allowed: %d\n", o.maxDownloads)
	}
	if kd.IsPasswordDerived {
		fmt.Fprintln(a.out, "share the password separately; the link alone cannot decrypt the file")
	}
	return nil
}

// uploadKey returns a fresh random key, or a password-derived one together
// with the public KDF parameters.
func (a *App) uploadKey(o *uploadOptions) (*cryptox.Key, *models.KDFParams, error) {
	if !o.usePassword {
		key, err := cryptox.GenerateKey()
		return key, nil, err
	}

	iterations := a.config.PBKDF2Iterations
	switch o.kdf {
	case cryptox.KDFPBKDF2SHA256:
	case cryptox.KDFArgon2id:
		iterations = cryptox.DefaultArgon2idTime
	default:
		return nil, nil, fmt.Errorf("%w: %s", cryptox.ErrUnknownKDF, o.kdf)
	}

	pw, err := GetNewPassword(a.out, "Encryption password")
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(pw)

	salt, err := cryptox.GenerateSalt()
	if err != nil {
		return nil, nil, err
	}
	key, err := cryptox.DeriveKey(o.kdf, pw, salt, iterations)
	if err != nil {
		return nil, nil, err
	}
	return key, &models.KDFParams{Algorithm: o.kdf, Salt: salt, Iterations: iterations}, nil
}

// completeLink appends the key fragment to the bare link the server
// returned. Password-derived links stay bare.
func completeLink(res *api.UploadResponse, kd keytransport.KeyData) (string, error) {
	if kd.IsPasswordDerived {
		return res.ShareableURL, nil
	}
	p, err := keytransport.ParseShareLink(res.ShareableURL)
	if err != nil {
		return "", fmt.Errorf("server returned %w", err)
	}
	return keytransport.GenerateShareLink(p.BaseURL, res.ShortURL, kd)
}

func detectMIMEType(path string, content []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(content)
}

// describeError adds a hint for errors a user can act on.
func describeError(err error) error {
	var apiErr *api.Error
	switch {
	case errors.Is(err, common.ErrRateLimited) && errors.As(err, &apiErr) && apiErr.RetryAfter > 0:
		return fmt.Errorf("%w: try again in %s", err, apiErr.RetryAfter)
	case errors.Is(err, common.ErrExpired):
		return fmt.Errorf("%w: the link has expired", err)
	case errors.Is(err, common.ErrDownloadsExhausted):
		return fmt.Errorf("%w: no downloads left", err)
	case errors.Is(err, common.ErrorNotFound):
		return fmt.Errorf("%w: check the link", err)
	}
	return err
}
