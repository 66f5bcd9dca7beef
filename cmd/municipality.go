package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/store"
)

var (
	muniName        string
	muniSlug        string
	muniPlaylistURL string
	muniSeedFile    string
)

// defaultMunicipalities are the Phoenix-area cities seeded when no file is given.
var defaultMunicipalities = []model.Municipality{
	{Name: "Gilbert", Slug: "gilbert", PlaylistURL: "https://www.youtube.com/playlist?list=PL515B03692F942503"},
	{Name: "Phoenix", Slug: "phoenix", PlaylistURL: "https://www.youtube.com/playlist?list=PL22YB12L5NbTuJ_GPTxBJU4CKDII3fIB4"},
	{Name: "Scottsdale", Slug: "scottsdale", PlaylistURL: "https://www.youtube.com/watch?v=JpMBZW-1F04&list=PLOKBvBs_6yw9NbVeQBllEXrilIqyi5eiP"},
	{Name: "Chandler", Slug: "chandler", PlaylistURL: "https://www.youtube.com/playlist?list=PLJcsB9a3Oq8WdIjqW7qf91LsENrcIZIRu"},
}

var municipalityCmd = &cobra.Command{
	Use:   "municipality",
	Short: "Manage the municipalities whose playlists are ingested",
}

var municipalityAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a municipality",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m := model.Municipality{
			Name:        strings.TrimSpace(muniName),
			Slug:        strings.TrimSpace(muniSlug),
			PlaylistURL: strings.TrimSpace(muniPlaylistURL),
		}
		if m.Slug == "" {
			m.Slug = slugify(m.Name)
		}
		if err := validateMunicipality(m); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.CreateMunicipality(ctx, &m); err != nil {
			return err
		}
		zap.L().Info("municipality added", zap.String("slug", m.Slug), zap.String("id", m.ID))
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", m.Name, m.Slug)
		return nil
	},
}

var municipalityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List municipalities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		munis, err := st.ListMunicipalities(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SLUG\tNAME\tPLAYLIST")
		for _, m := range munis {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Slug, m.Name, m.PlaylistURL)
		}
		return tw.Flush()
	},
}

var municipalitySeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create or update municipalities from a YAML file (or the built-in defaults)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		munis := defaultMunicipalities
		if muniSeedFile != "" {
			var err error
			munis, err = loadSeedFile(muniSeedFile)
			if err != nil {
				return err
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertMunicipalities(ctx, munis)
		if err != nil {
			return err
		}
		zap.L().Info("municipalities seeded", zap.Int("count", len(munis)), zap.Int64("rows", n))
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d municipalities\n", len(munis))
		return nil
	},
}

// seedFile is the YAML layout accepted by "municipality seed --file".
type seedFile struct {
	Municipalities []model.Municipality `yaml:"municipalities"`
}

func loadSeedFile(path string) ([]model.Municipality, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "seed: parse %s", path)
	}
	if len(f.Municipalities) == 0 {
		return nil, eris.Errorf("seed: %s lists no municipalities", path)
	}
	for i := range f.Municipalities {
		m := &f.Municipalities[i]
		if m.Slug == "" {
			m.Slug = slugify(m.Name)
		}
		if err := validateMunicipality(*m); err != nil {
			return nil, eris.Wrapf(err, "seed: entry %d", i+1)
		}
	}
	return f.Municipalities, nil
}

func validateMunicipality(m model.Municipality) error {
	switch {
	case m.Name == "":
		return eris.New("municipality name is required")
	case m.Slug == "":
		return eris.New("municipality slug is required")
	case m.PlaylistURL == "":
		return eris.New("municipality playlist URL is required")
	}
	return nil
}

// slugify lowercases s and joins runs of letters and digits with hyphens.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// openStore opens and migrates the configured store without touching the
// job queue.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func init() {
	municipalityAddCmd.Flags().StringVar(&muniName, "name", "", "display name")
	municipalityAddCmd.Flags().StringVar(&muniSlug, "slug", "", "URL slug (derived from name when empty)")
	municipalityAddCmd.Flags().StringVar(&muniPlaylistURL, "playlist-url", "", "playlist URL to ingest")
	_ = municipalityAddCmd.MarkFlagRequired("name")
	_ = municipalityAddCmd.MarkFlagRequired("playlist-url")

	municipalitySeedCmd.Flags().StringVar(&muniSeedFile, "file", "", "YAML file with a municipalities list")

	municipalityCmd.AddCommand(municipalityAddCmd, municipalityListCmd, municipalitySeedCmd)
	rootCmd.AddCommand(municipalityCmd)
}
