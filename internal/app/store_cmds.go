package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/ctxlog"
)

// tagArtifact executes the tag command: the explicit human action that
// moves a tag, including the production-ready promotion. The reference must
// pin an exact version; tagging "whatever latest happens to be" is how
// promotions go wrong.
func (a *App) tagArtifact(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	ref, err := artifact.ParseRef(a.cfg.TagRef)
	if err != nil {
		return err
	}
	if !ref.ByVersion() {
		return fmt.Errorf("tag requires an exact version reference like %q, got %q", ref.Name+":v3", a.cfg.TagRef)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Tag(ctx, ref.Name, ref.Version, a.cfg.TagName); err != nil {
		return err
	}
	logger.Info("✅ Tag moved", "artifact", ref.String(), "tag", a.cfg.TagName)
	return nil
}

// getArtifact fetches one artifact payload to a file or stdout.
func (a *App) getArtifact(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	ref, err := artifact.ParseRef(a.cfg.GetRef)
	if err != nil {
		return err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	meta, payload, err := store.Get(ctx, ref)
	if err != nil {
		return err
	}
	defer payload.Close()

	if a.cfg.OutPath == "" {
		_, err = io.Copy(a.outW, payload)
		return err
	}
	f, err := os.Create(a.cfg.OutPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("✅ Artifact fetched", "artifact", meta.Ref().String(), "path", a.cfg.OutPath, "bytes", meta.Size)
	return nil
}

// listArtifacts prints every artifact name with its versions and tags.
func (a *App) listArtifacts(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := store.Names(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ARTIFACT\tVERSION\tTYPE\tSIZE\tTAGS\tPRODUCED BY")
	for _, name := range names {
		versions, err := store.Versions(ctx, name)
		if err != nil {
			return err
		}
		for _, m := range versions {
			tags := append([]string(nil), m.Tags...)
			sort.Strings(tags)
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				m.Name, m.Version, m.Type, m.Size, strings.Join(tags, ","), m.ProducingRunID)
		}
	}
	return w.Flush()
}

// listRuns prints pipeline runs, or the step runs of one pipeline run when
// an ID is given.
func (a *App) listRuns(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	if a.cfg.PipelineRunID != "" {
		runs, err := store.Runs(ctx, a.cfg.PipelineRunID)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN\tSTEP\tSTATUS\tINPUTS\tOUTPUTS\tMETRICS")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Step, r.Status,
				strings.Join(r.Inputs, ","), strings.Join(r.Outputs, ","), formatMetrics(r.Metrics))
		}
		return w.Flush()
	}

	recs, err := store.PipelineRuns(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "PIPELINE RUN\tPIPELINE\tSTATUS\tSTARTED\tSTEPS\tFAILED STEP")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Pipeline, r.Status,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			strings.Join(r.Selection, ","), r.FailedStep)
	}
	return w.Flush()
}

func formatMetrics(metrics map[string]float64) string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, metrics[k])
	}
	return strings.Join(parts, " ")
}
