package bind

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ErrInvalidPort means the listen port is outside the valid range.
var ErrInvalidPort = errors.New("invalid port")

// ServerOptions carries the validated flags of the server command.
type ServerOptions struct {
	Addr  string
	Port  int
	NoAPI bool
}

// BindServerOptions extracts and validates server command flags.
//
// Flags read:
//   - --addr: Listen address
//   - --port: Listen port (1-65535)
//   - --no-api: Serve health endpoints only
func BindServerOptions(cmd *cobra.Command) (ServerOptions, error) {
	addr, _ := cmd.Flags().GetString("addr")
	port, _ := cmd.Flags().GetInt("port")
	noAPI, _ := cmd.Flags().GetBool("no-api")

	if port < 1 || port > 65535 {
		return ServerOptions{}, fmt.Errorf("%w %d: must be between 1 and 65535", ErrInvalidPort, port)
	}

	return ServerOptions{
		Addr:  addr,
		Port:  port,
		NoAPI: noAPI,
	}, nil
}
