package main

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/brfs"
	"github.com/outofforest/brfs/flash"
	"github.com/outofforest/brfs/pkg/fileflash"
	"github.com/outofforest/brfs/volume"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	imagePath string
	verbose   bool
	log       *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "brfs",
		Short:        "Manages BRFS volumes stored in flash image files",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setupLogger()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.imagePath, "image", "brfs.img", "path to the flash image file")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "log flash operations")

	root.AddCommand(
		a.formatCmd(),
		a.mkdirCmd(),
		a.mkfileCmd(),
		a.lsCmd(),
		a.statCmd(),
		a.rmCmd(),
		a.writeCmd(),
		a.catCmd(),
		a.dfCmd(),
		a.dumpCmd(),
		a.fsckCmd(),
	)
	return root
}

func (a *app) setupLogger() error {
	config := zap.NewDevelopmentConfig()
	config.DisableStacktrace = true
	if !a.verbose {
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	log, err := config.Build()
	if err != nil {
		return errors.WithStack(err)
	}
	a.log = log
	return nil
}

// withVolume mounts the volume stored in the image and runs fn. If sync is true, volume is synced afterwards.
func (a *app) withVolume(sync bool, fn func(v *volume.Volume) error) error {
	chip, err := fileflash.Open(a.imagePath)
	if err != nil {
		return err
	}
	defer chip.Close()

	v, err := brfs.Mount(chip, a.log)
	if err != nil {
		return err
	}
	if err := fn(v); err != nil {
		return err
	}
	if !sync {
		return nil
	}
	if err := v.Sync(); err != nil {
		return err
	}
	return chip.Sync()
}

func (a *app) formatCmd() *cobra.Command {
	var (
		size          uint32
		blocks        uint32
		wordsPerBlock uint32
		label         string
		quick         bool
	)

	cmd := &cobra.Command{
		Use:   "format",
		Short: "Creates the image if it does not exist and formats the volume",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			chip, err := fileflash.Open(a.imagePath)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return err
				}
				chip, err = fileflash.Create(a.imagePath, size)
				if err != nil {
					return err
				}
			}
			defer chip.Close()

			v, err := brfs.New(chip, a.log)
			if err != nil {
				return err
			}
			if err := v.Format(blocks, wordsPerBlock, label, !quick); err != nil {
				return err
			}
			if err := v.Sync(); err != nil {
				return err
			}
			return chip.Sync()
		},
	}
	cmd.Flags().Uint32Var(&size, "size", flash.W25Q128Size, "size of the image created if it does not exist, in bytes")
	cmd.Flags().Uint32Var(&blocks, "blocks", 1024, "number of blocks, multiple of 64")
	cmd.Flags().Uint32Var(&wordsPerBlock, "words-per-block", 128, "size of the block in words")
	cmd.Flags().StringVar(&label, "label", "FPGC", "volume label, up to 10 characters")
	cmd.Flags().BoolVar(&quick, "quick", false, "do not zero the data region")
	return cmd
}

func (a *app) mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <parent> <name>",
		Short: "Creates directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.withVolume(true, func(v *volume.Volume) error {
				return v.Mkdir(args[0], args[1])
			})
		},
	}
}

func (a *app) mkfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkfile <parent> <name>",
		Short: "Creates empty file",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.withVolume(true, func(v *volume.Volume) error {
				return v.Mkfile(args[0], args[1])
			})
		},
	}
}

func (a *app) lsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "Lists directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) > 0 {
				dir = args[0]
			}
			return a.withVolume(false, func(v *volume.Volume) error {
				entries, err := v.List(dir)
				if err != nil {
					return err
				}
				for _, e := range entries {
					if e.IsHidden() && !all {
						continue
					}
					if err := printEntry(cmd.OutOrStdout(), e); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "show hidden entries")
	return cmd
}

func (a *app) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Prints the entry of the file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(false, func(v *volume.Volume) error {
				e, err := v.Stat(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "name=%s dir=%t hidden=%t fat=%d size=%d\n",
					e.Name, e.IsDir(), e.IsHidden(), e.FATIndex, e.Filesize)
				return errors.WithStack(err)
			})
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Deletes file or empty directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.withVolume(true, func(v *volume.Volume) error {
				return v.Delete(args[0])
			})
		},
	}
}

func (a *app) writeCmd() *cobra.Command {
	var appendData bool

	cmd := &cobra.Command{
		Use:   "write <path> <host file>",
		Short: "Writes the host file into the volume, one byte per word",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return errors.WithStack(err)
			}
			words := make([]uint32, 0, len(content))
			for _, b := range content {
				words = append(words, uint32(b))
			}

			return a.withVolume(true, func(v *volume.Volume) error {
				entry, err := v.Stat(args[0])
				switch {
				case errors.Is(err, volume.ErrPathNotFound):
					if err := v.Mkfile(path.Dir(args[0]), path.Base(args[0])); err != nil {
						return err
					}
				case err != nil:
					return err
				}

				h, err := v.Open(args[0])
				if err != nil {
					return err
				}
				if appendData {
					if err := v.SetCursor(h, int(entry.Filesize)); err != nil {
						return err
					}
				}
				if _, err := v.Write(h, words); err != nil {
					return err
				}
				return v.Close(h)
			})
		},
	}
	cmd.Flags().BoolVar(&appendData, "append", false, "append to the end of the file instead of overwriting it")
	return cmd
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Prints the file, low byte of each word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(false, func(v *volume.Volume) error {
				entry, err := v.Stat(args[0])
				if err != nil {
					return err
				}
				h, err := v.Open(args[0])
				if err != nil {
					return err
				}
				words := make([]uint32, entry.Filesize)
				n, err := v.Read(h, words)
				if err != nil {
					return err
				}
				content := make([]byte, 0, n)
				for _, w := range words[:n] {
					content = append(content, byte(w))
				}
				_, err = cmd.OutOrStdout().Write(content)
				return errors.WithStack(err)
			})
		},
	}
}

func (a *app) dfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "df",
		Short: "Prints block usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVolume(false, func(v *volume.Volume) error {
				u, err := v.Usage()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Used: %d blocks (%d kwords)\nFree: %d blocks (%d kwords)\nTotal: %d blocks of %d words\n",
					u.UsedBlocks, u.UsedBlocks*u.WordsPerBlock/1024,
					u.FreeBlocks(), u.FreeBlocks()*u.WordsPerBlock/1024,
					u.TotalBlocks, u.WordsPerBlock)
				return errors.WithStack(err)
			})
		},
	}
}

func (a *app) dumpCmd() *cobra.Command {
	var fatEntries int

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dumps the volume, or only FAT if --fat is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVolume(false, func(v *volume.Volume) error {
				if fatEntries > 0 {
					return v.DumpFAT(cmd.OutOrStdout(), fatEntries)
				}
				return v.Dump(cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVar(&fatEntries, "fat", 0, "number of FAT entries to dump")
	return cmd
}

func (a *app) fsckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fsck",
		Short: "Verifies consistency of the volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVolume(false, func(v *volume.Volume) error {
				if err := v.Check(); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return errors.WithStack(err)
			})
		},
	}
}

func printEntry(w io.Writer, e volume.DirEntry) error {
	kind := "file"
	if e.IsDir() {
		kind = "dir"
	}
	_, err := fmt.Fprintf(w, "%-16s %-4s %d\n", e.Name, kind, e.Filesize)
	return errors.WithStack(err)
}
