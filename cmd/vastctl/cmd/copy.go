package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/internal/ssh"
	"github.com/vastctl/vastctl/internal/transfer"
	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		command{
			verb:  "copy",
			use:   "<src> <dst>",
			short: "Copy files between this machine and instances",
			long: `Copy a file or directory. Each side is a local path or <instance_id>:<path>.

Local to instance and instance to local copies go over SFTP to the
instance's ssh port with your private key. Instance to instance copies
are done by the hosts through the API.`,
			example: `  vastctl copy ./data 1234:/workspace/data
  vastctl copy 1234:/root/out.tar.gz .
  vastctl copy 1234:/workspace 1235:/workspace`,
			args: cobra.ExactArgs(2),
			flags: func(fs *pflag.FlagSet) {
				fs.StringP("identity", "i", "", "Private key for ssh (default: ssh.identity_file, ssh-agent, then ~/.ssh)")
			},
			run: runCopy,
		},
		command{
			verb:  "cancel",
			noun:  "copy",
			use:   "<dst_id>",
			short: "Cancel a pending copy into an instance",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				rec, err := rc.client().CancelCopy(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.done(rec, "cancelled copy into instance %d", id)
			},
		},
		command{
			verb:  "cancel",
			noun:  "sync",
			use:   "<dst_id>",
			short: "Cancel a pending cloud sync into an instance",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				rec, err := rc.client().CancelSync(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.done(rec, "cancelled sync into instance %d", id)
			},
		},
		command{
			verb:  "cloud",
			noun:  "copy",
			short: "Copy between an instance and a connected cloud bucket",
			example: `  vastctl cloud copy --instance 1234 --connection 52 --src /workspace --dst /backups/run1 --transfer "Instance To Cloud"
  vastctl cloud copy --instance 1234 --connection 52 --src /datasets --dst /workspace --transfer "Cloud To Instance"`,
			flags: func(fs *pflag.FlagSet) {
				fs.Int("instance", 0, "Instance ID (required)")
				fs.String("connection", "", "Cloud connection ID from 'show connections' (required)")
				fs.String("src", "", "Source path")
				fs.String("dst", "/workspace", "Destination path")
				fs.String("transfer", "Instance To Cloud", `"Instance To Cloud" or "Cloud To Instance"`)
				fs.Bool("dry-run", false, "Show what would be transferred")
				fs.Bool("size-only", false, "Compare by size only")
				fs.Bool("ignore-existing", false, "Skip files that already exist at the destination")
				fs.Bool("update", false, "Skip files that are newer at the destination")
				fs.Bool("delete-excluded", false, "Delete files at the destination that are excluded")
			},
			run: func(rc *runContext, _ []string) error {
				var flags []string
				for _, name := range []string{"dry-run", "size-only", "ignore-existing", "update", "delete-excluded"} {
					if rc.boolean(name) {
						flags = append(flags, "--"+name)
					}
				}
				rec, err := rc.client().CloudCopy(rc.ctx, vast.CloudCopyRequest{
					InstanceID:   rc.integer("instance"),
					Src:          rc.str("src"),
					Dst:          rc.str("dst"),
					ConnectionID: rc.str("connection"),
					Transfer:     rc.str("transfer"),
					Flags:        flags,
				})
				if err != nil {
					return err
				}
				return rc.done(rec, "started cloud copy (%s)", rc.str("transfer"))
			},
		},
		command{
			verb:  "show",
			noun:  "connections",
			short: "List cloud storage connections",
			run: func(rc *runContext, _ []string) error {
				rows, err := rc.client().Connections(rc.ctx)
				if err != nil {
					return err
				}
				return rc.render(rows, connectionColumns)
			},
		},
	)
}

func runCopy(rc *runContext, args []string) error {
	src, err := transfer.ParseEndpoint(args[0])
	if err != nil {
		return &vast.ValidationError{Field: "src", Message: err.Error()}
	}
	dst, err := transfer.ParseEndpoint(args[1])
	if err != nil {
		return &vast.ValidationError{Field: "dst", Message: err.Error()}
	}

	switch {
	case src.Local() && dst.Local():
		return &vast.ValidationError{Field: "dst", Message: "at least one side must be an instance (<id>:<path>)"}
	case !src.Local() && !dst.Local():
		rec, err := rc.client().CopyDirect(rc.ctx, vast.CopyRequest{
			SrcID:   src.InstanceID,
			DstID:   dst.InstanceID,
			SrcPath: src.Path,
			DstPath: dst.Path,
		})
		if err != nil {
			return err
		}
		return rc.done(rec, "copying %s to %s", src, dst)
	}

	remote := src
	if src.Local() {
		remote = dst
	}
	copier, closeAll, err := openCopier(rc, remote.InstanceID)
	if err != nil {
		return err
	}
	defer closeAll()

	var stats transfer.Stats
	if src.Local() {
		stats, err = copier.Upload(rc.ctx, src.Path, dst.Path)
	} else {
		stats, err = copier.Download(rc.ctx, src.Path, dst.Path)
	}
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return rc.done(vast.Record{"success": true, "files": stats.Files, "bytes": stats.Bytes},
		"copied %d files (%d bytes) from %s to %s", stats.Files, stats.Bytes, src, dst)
}

// openCopier dials the instance's sshd and opens an SFTP session on it
func openCopier(rc *runContext, instanceID int) (*transfer.Copier, func(), error) {
	host, port, err := rc.client().SSHEndpoint(rc.ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	cfg := rc.app.cfg.SSH
	identity := cfg.IdentityFile
	if rc.changed("identity") {
		identity = rc.str("identity")
	}
	var opts []ssh.Option
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, ssh.WithConnectTimeout(cfg.ConnectTimeout))
	}
	dialer := ssh.NewDialer(opts...)

	conn, err := dialer.Dial(rc.ctx, ssh.Target{Host: host, Port: port, User: cfg.User, IdentityFile: identity})
	if err != nil {
		return nil, nil, err
	}
	copier, err := transfer.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return copier, func() {
		// sftp first, then the ssh connection underneath it
		if err := errors.Join(copier.Close(), conn.Close()); err != nil {
			rc.app.logger.Debug("closing copy session", "error", err)
		}
	}, nil
}
