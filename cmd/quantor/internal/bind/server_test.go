package bind

import (
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestBindServerOptions(t *testing.T) {
	tests := []struct {
		name    string
		flags   map[string]any
		want    ServerOptions
		wantErr bool
		errMsg  string
	}{
		{
			name: "all flags set",
			flags: map[string]any{
				"addr":   "0.0.0.0",
				"port":   8080,
				"no-api": false,
			},
			want: ServerOptions{
				Addr:  "0.0.0.0",
				Port:  8080,
				NoAPI: false,
			},
			wantErr: false,
		},
		{
			name: "defaults",
			flags: map[string]any{
				"addr":   "127.0.0.1",
				"port":   8472,
				"no-api": false,
			},
			want: ServerOptions{
				Addr:  "127.0.0.1",
				Port:  8472,
				NoAPI: false,
			},
			wantErr: false,
		},
		{
			name: "no-api enabled",
			flags: map[string]any{
				"addr":   "127.0.0.1",
				"port":   9000,
				"no-api": true,
			},
			want: ServerOptions{
				Addr:  "127.0.0.1",
				Port:  9000,
				NoAPI: true,
			},
			wantErr: false,
		},
		{
			name: "invalid port - too low",
			flags: map[string]any{
				"addr":   "127.0.0.1",
				"port":   0,
				"no-api": false,
			},
			want:    ServerOptions{},
			wantErr: true,
			errMsg:  "invalid port 0: must be between 1 and 65535",
		},
		{
			name: "invalid port - too high",
			flags: map[string]any{
				"addr":   "127.0.0.1",
				"port":   70000,
				"no-api": false,
			},
			want:    ServerOptions{},
			wantErr: true,
			errMsg:  "invalid port 70000: must be between 1 and 65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := setupServerCommand(tt.flags)
			got, err := BindServerOptions(cmd)

			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					require.Contains(t, err.Error(), tt.errMsg)
				}
				require.ErrorIs(t, err, ErrInvalidPort)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

// setupServerCommand creates a mock command with server flags
func setupServerCommand(flags map[string]any) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("addr", "127.0.0.1", "Address")
	cmd.Flags().Int("port", 8472, "Port")
	cmd.Flags().Bool("no-api", false, "No API")

	if addr, ok := flags["addr"].(string); ok {
		_ = cmd.Flags().Set("addr", addr)
	}
	if port, ok := flags["port"].(int); ok {
		_ = cmd.Flags().Set("port", fmt.Sprintf("%d", port))
	}
	if noAPI, ok := flags["no-api"].(bool); ok && noAPI {
		_ = cmd.Flags().Set("no-api", "true")
	}

	return cmd
}
