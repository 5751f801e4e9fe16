package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/zkdrop/internal/client/envelope"
	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/cryptox"
	"github.com/dmitrijs2005/zkdrop/internal/filex"
	"github.com/dmitrijs2005/zkdrop/internal/keytransport"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
)

var (
	ErrMissingKey = errors.New("link carries no key and the file is not password protected")
	ErrDecrypt    = errors.New("cannot decrypt file: wrong password or damaged link")
)

// download fetches, decrypts and saves the file behind a share link.
func (a *App) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	outDir := fs.String("o", ".", "directory to save the file into")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: download takes exactly one link", ErrUsage)
	}

	link, err := keytransport.ParseShareLink(fs.Arg(0))
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

	key, err := a.downloadKey(link, info.Metadata.IsPasswordDerived(), info.Metadata.KDF)
	if err != nil {
		return err
	}
	defer key.Wipe()

	var access string
	if info.RequiresPassword {
		pw, err := GetPassword(a.out, "Access password")
		if err != nil {
			return err
		}
		access = string(pw)
		common.WipeByteArray(pw)
	}

	d, err := client.Download(ctx, link.ShortURL, access)
	if err != nil {
		return describeError(err)
	}

	plaintext, err := cryptox.DecryptBlob(d.Ciphertext, key, d.Metadata.IV)
	if err != nil {
		if errors.Is(err, cryptox.ErrAuthenticationFailed) {
			return ErrDecrypt
		}
		return err
	}
	defer common.WipeByteArray(plaintext)

	env, err := envelope.Unpack(plaintext)
	if err != nil {
		return err
	}

	dir, err := filex.EnsureDir(*outDir)
	if err != nil {
		return err
	}
	dst, err := saveUnique(dir, env.Manifest.Name, env.Content)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "saved %s (%s, %d bytes)\n", dst, env.Manifest.MIMEType, env.Manifest.Size)
	return nil
}

// downloadKey takes the key from the link fragment, or derives it from a
// password with the parameters published next to the ciphertext.
func (a *App) downloadKey(link *keytransport.ParsedLink, passwordDerived bool, kdf *models.KDFParams) (*cryptox.Key, error) {
	if !passwordDerived {
		if !link.HasKey() {
			return nil, ErrMissingKey
		}
		return link.Key, nil
	}
	if kdf == nil {
		return nil, fmt.Errorf("%w: missing key derivation parameters", common.ErrorIncorrectMetadata)
	}
	if err := cryptox.ValidateKDFParams(kdf.Algorithm, kdf.Salt, kdf.Iterations); err != nil {
		return nil, fmt.Errorf("refusing published key derivation parameters: %w", err)
	}

	pw, err := GetPassword(a.out, "Decryption password")
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(pw)

	return cryptox.DeriveKey(kdf.Algorithm, pw, kdf.Salt, kdf.Iterations)
}

// saveUnique writes data to dir/name, or to dir/name (n).ext when that is
// taken, and returns the path it used. Existing files are never replaced.
func saveUnique(dir, name string, data []byte) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for n := 1; n < 1000; n++ {
		err := filex.WriteFileExclusive(candidate, data, 0o600)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}
