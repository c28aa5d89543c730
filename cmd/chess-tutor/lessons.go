package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/park285/chess-tutor/internal/lesson"
	"github.com/spf13/cobra"
)

var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "List the available lessons",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		c, err := lesson.Load(file)
		if err != nil {
			return err
		}
		return printLessons(cmd.OutOrStdout(), c)
	},
}

func init() {
	lessonsCmd.Flags().String("file", "", "lesson catalog to use instead of the built-in one")
}

func printLessons(w io.Writer, c *lesson.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tTITLE\tMOVES")
	for i, l := range c.All() {
		moves := "free"
		if l.HasSolution() {
			moves = fmt.Sprint(len(l.Solution))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, l.ID, l.Title, moves)
	}
	return tw.Flush()
}
