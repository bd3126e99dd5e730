package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func (a *app) newDropCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop TABLE",
		Short: "Drop a table from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			purge, _ := cmd.Flags().GetBool("purge")

			s, err := a.newSession(ctx)
			if err != nil {
				return err
			}
			if err := s.DropTable(ctx, args[0], purge); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Str("table", args[0]).Bool("purge", purge).Msg("table dropped")
			return nil
		}),
	}
	cmd.Flags().Bool("purge", false, "delete data and metadata files as well")
	return cmd
}
