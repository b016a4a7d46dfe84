package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/fingerprint"
	"github.com/kozaktomas/attendance-kiosk/internal/recognition"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/spf13/cobra"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Inspect the roster and enroll reference faces",
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roster identities and their enrolled faces",
	RunE:  runRosterList,
}

var rosterEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Compute face embeddings from the reference photos of the roster",
	Long: `Send every reference photo listed in the roster to the embedding server and
store the resulting faces. Photo paths are relative to the roster file.

Enrolling an identity replaces all of its previously enrolled faces. The face
index used by 'run' is rebuilt afterwards.`,
	Example: `  attendance-kiosk roster enroll
  attendance-kiosk roster enroll --ids S001`,
	RunE: runRosterEnroll,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterListCmd)
	rosterCmd.AddCommand(rosterEnrollCmd)

	rosterEnrollCmd.Flags().StringSlice("ids", nil, "Only enroll these identity IDs")
}

func runRosterList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := cmd.Context()
	logger := slog.Default()

	dir, err := roster.Load(cfg.Roster.Path)
	if err != nil {
		return err
	}
	back, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer back.Close()

	faces, err := back.faceStores(cfg)[0].All(ctx)
	if err != nil {
		return fmt.Errorf("load enrolled faces: %w", err)
	}
	perIdentity := make(map[string]int)
	for _, f := range faces {
		perIdentity[f.IdentityID]++
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("%-12s %-28s %-32s %6s %6s\n", "ID", "NAME", "EMAIL", "PHOTOS", "FACES")
	missing := 0
	for _, identity := range dir.All() {
		n := perIdentity[identity.ID]
		faceCol := green(fmt.Sprintf("%6d", n))
		if n == 0 {
			faceCol = red(fmt.Sprintf("%6d", n))
			missing++
		}
		fmt.Printf("%-12s %-28s %-32s %6d %s\n", identity.ID, identity.DisplayName, identity.Contact, len(identity.Photos), faceCol)
	}
	fmt.Printf("\n%d identities, %d enrolled faces", dir.Len(), len(faces))
	if missing > 0 {
		fmt.Printf(", %s not enrolled", red(missing))
	}
	fmt.Println()
	return nil
}

func runRosterEnroll(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := cmd.Context()
	logger := slog.Default()

	dir, err := roster.Load(cfg.Roster.Path)
	if err != nil {
		return err
	}
	identities, err := selectIdentities(dir, mustGetStringSlice(cmd, "ids"))
	if err != nil {
		return err
	}

	back, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer back.Close()
	stores := back.faceStores(cfg)

	photos := 0
	for _, identity := range identities {
		photos += len(identity.Photos)
	}
	if photos == 0 {
		return errors.New("no reference photos listed for the selected identities")
	}

	enroller := recognition.NewEnroller(fingerprint.NewEmbeddingClient(cfg.Embedding.URL), constants.MinDetScore)
	bar := newProgressBar(photos, "Enrolling faces", "photos")
	enrolled, rejected, err := enrollIdentities(ctx, enroller, identities, filepath.Dir(cfg.Roster.Path), stores, func() {
		_ = bar.Add(1)
	}, logger)
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	all, err := stores[0].All(ctx)
	if err != nil {
		return fmt.Errorf("load enrolled faces: %w", err)
	}
	index := database.NewFaceIndex()
	if err := index.BuildFromFaces(all); err != nil {
		return fmt.Errorf("build face index: %w", err)
	}
	if err := index.SaveWithFaceMetadata(cfg.Roster.EnrollmentPath); err != nil {
		return fmt.Errorf("save face index: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	fmt.Printf("Enrolled %s faces, rejected %s photos\n", green(enrolled), red(rejected))
	fmt.Printf("Face index: %d faces of %d identities saved to %s\n", index.Count(), index.Identities(), cfg.Roster.EnrollmentPath)
	return nil
}

// enrollIdentities enrolls the reference photos of each identity into every
// store. An identity without a single usable photo keeps its previous faces.
func enrollIdentities(
	ctx context.Context,
	enroller *recognition.Enroller,
	identities []roster.Identity,
	baseDir string,
	stores []database.EnrolledFaceWriter,
	progress func(),
	logger *slog.Logger,
) (enrolled, rejected int, err error) {
	for _, identity := range identities {
		if len(identity.Photos) == 0 {
			continue
		}
		var faces []database.EnrolledFace
		for _, photo := range identity.Photos {
			path := photo
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			face, err := enrollPhoto(ctx, enroller, identity.ID, path)
			if progress != nil {
				progress()
			}
			if err != nil {
				rejected++
				logger.Warn("reference photo rejected", "identity", identity.ID, "photo", path, "error", err)
				continue
			}
			faces = append(faces, face)
		}
		if len(faces) == 0 {
			logger.Warn("no usable reference photo, keeping previous enrollment", "identity", identity.ID)
			continue
		}
		for _, store := range stores {
			if err := store.ReplaceIdentity(ctx, identity.ID, faces); err != nil {
				return enrolled, rejected, fmt.Errorf("storing faces of %s: %w", identity.ID, err)
			}
		}
		enrolled += len(faces)
	}
	return enrolled, rejected, nil
}

func enrollPhoto(ctx context.Context, enroller *recognition.Enroller, identityID, path string) (database.EnrolledFace, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the roster file
	if err != nil {
		return database.EnrolledFace{}, err
	}
	return enroller.EnrollPhoto(ctx, identityID, filepath.Base(path), data)
}
