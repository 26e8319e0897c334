package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/oo-developer/mfclone/logger"
)

func slotArg(args []string) (int, error) {
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 {
		return 0, fmt.Errorf("invalid slot %q", args[0])
	}
	return slot, nil
}

var captureCmd = &cobra.Command{
	Use:     "capture",
	Aliases: []string{"read", "r"},
	Short:   "Recover the keys of the card on the reader and save its profile",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := interruptible(cmd)
		defer stop()
		_, err = a.session.Capture(ctx)
		info := a.reader.CardInfo()
		a.log.Debug("captured card", logger.String("type", info.Type), logger.String("protocol", info.Protocol))
		return err
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "l"},
	Short:   "List stored card profiles",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, false)
		if err != nil {
			return err
		}
		a.session.List()
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <slot>",
	Aliases: []string{"s"},
	Short:   "Print keys and a hex dump of a stored profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := slotArg(args)
		if err != nil {
			return err
		}
		a, err := openApp(cmd, false)
		if err != nil {
			return err
		}
		_, err = a.session.Show(slot)
		return err
	},
}

var cloneCmd = &cobra.Command{
	Use:     "clone <slot>",
	Aliases: []string{"write", "w"},
	Short:   "Write a stored profile onto a writable-UID card",
	Long: `clone unlocks block 0 of the card on the reader (dictionary on key A and B,
then the Gen1 backdoor), writes the stored UID with a fresh check byte and
reads the card again to confirm the UID changed. The data blocks of every
solved sector are copied afterwards when clone.copy_data is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := slotArg(args)
		if err != nil {
			return err
		}
		a, err := openApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := interruptible(cmd)
		defer stop()
		_, err = a.session.Clone(ctx, slot)
		return err
	},
}

var emulateCmd = &cobra.Command{
	Use:     "emulate <slot>",
	Aliases: []string{"e"},
	Short:   "Present the UID of a stored profile to other readers until interrupted",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := slotArg(args)
		if err != nil {
			return err
		}
		a, err := openApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := interruptible(cmd)
		defer stop()
		return a.session.Emulate(ctx, slot)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <slot>",
	Aliases: []string{"rm", "d"},
	Short:   "Delete a stored profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := slotArg(args)
		if err != nil {
			return err
		}
		a, err := openApp(cmd, false)
		if err != nil {
			return err
		}
		return a.session.Delete(slot)
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Run the interactive single-letter command shell",
	Long: `shell reads one command per line: R (capture), L (list), S<n> (show),
W<n> (clone), E<n> (emulate), D<n> (delete), H (help) and Q (quit).
An interrupt stops the running command and returns to the prompt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		if interactive {
			fmt.Fprintf(cmd.OutOrStdout(), "mfclone on %s, %d stored cards, H for help\n", a.reader.Name(), len(a.store.List()))
		}
		return a.session.Run(cmd.Context(), cmd.InOrStdin(), interactive)
	},
}
