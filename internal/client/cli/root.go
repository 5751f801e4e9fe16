package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/zkdrop/internal/client/config"
	"github.com/dmitrijs2005/zkdrop/internal/flagx"
)

var ErrUsage = errors.New("usage")

const usage = `Usage: zkdrop [-a server] [-t timeout] [-c config.json] <command> [flags] <arg>

Commands:
  upload [-ttl 1h|24h|7d|30d|never] [-max n] [-password] [-kdf pbkdf2-sha256|argon2id] [-access] <file>
  download [-o dir] <link>
  info <link>
  delete <link>
`

// Run executes the command found in args (usually os.Args[1:]).
func (a *App) Run(ctx context.Context, args []string) error {
	cmd, rest := splitCommand(args)

	switch cmd {
	case "upload":
		return a.upload(ctx, rest)
	case "download", "get":
		return a.download(ctx, rest)
	case "info":
		return a.info(ctx, rest)
	case "delete", "rm":
		return a.delete(ctx, rest)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	case "":
		fmt.Fprint(a.out, usage)
		return ErrUsage
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

// splitCommand drops the configuration flags handled by the config package
// and returns the first remaining argument as the command.
func splitCommand(args []string) (string, []string) {
	global := append(slices.Clone(config.GlobalFlags), flagx.ConfigFileFlags...)

	rest := flagx.StripArgs(args, global)
	if len(rest) == 0 {
		return "", nil
	}
	return rest[0], rest[1:]
}
