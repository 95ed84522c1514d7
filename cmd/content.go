package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/lectio/internal/reading"
)

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage readable texts",
}

var contentAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Import a text file as readable content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		difficulty, _ := cmd.Flags().GetInt("difficulty")
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		if difficulty < 0 || difficulty > 5 {
			return fmt.Errorf("difficulty must be between 0 (unknown) and 5, got %d", difficulty)
		}

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.AddContent(cmd.Context(), reading.Content{
			ID:         id,
			Title:      title,
			RawText:    string(raw),
			Difficulty: difficulty,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added %q as %s (version %s, %d chars)\n", c.Title, c.ID, c.VersionID, len([]rune(c.RawText)))
		return nil
	},
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored texts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		contents, err := s.ListContents(cmd.Context())
		if err != nil {
			return err
		}
		if len(contents) == 0 {
			fmt.Println("No content yet. Add some with `lectio content add <file>`.")
			return nil
		}

		fmt.Printf("%-36s  %-32s  %4s  %8s\n", "ID", "Title", "Diff", "Chars")
		fmt.Println(strings.Repeat("─", 86))
		for _, c := range contents {
			fmt.Printf("%-36s  %-32s  %4d  %8d\n", c.ID, truncate(c.Title, 32), c.Difficulty, len([]rune(c.RawText)))
		}
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage reader profiles",
}

var profileLevelCmd = &cobra.Command{
	Use:   "level <user-id> <education-level>",
	Short: "Set a reader's education level (PRIMARIA, BASICO, MEDIO, SUPERIOR, POSGRADO)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.SetEducationLevel(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		p, err := s.GetOrCreateProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (at least %d target words)\n", p.UserID, p.EducationLevel, reading.MinTargetWords(p.EducationLevel))
		return nil
	},
}

func init() {
	contentAddCmd.Flags().String("id", "", "Content id (default: generated)")
	contentAddCmd.Flags().String("title", "", "Title (default: file name)")
	contentAddCmd.Flags().Int("difficulty", 3, "Difficulty from 1 (easiest) to 5, 0 if unknown")

	contentCmd.AddCommand(contentAddCmd)
	contentCmd.AddCommand(contentListCmd)
	profileCmd.AddCommand(profileLevelCmd)
}
