package workload

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	logpkg "github.com/haukened/bf/internal/bf/common/log"
	"github.com/haukened/bf/internal/bf/hash"
)

// LoadFiles parses the input and query files concurrently.
func LoadFiles(ctx context.Context, inputPath, queryPath string, numeric bool, logger logpkg.Logger) ([]hash.Object, []Query, error) {
	var (
		inputs  []hash.Object
		queries []Query
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fh, err := openReadable(ctx, inputPath)
		if err != nil {
			return err
		}
		defer fh.Close()
		inputs, err = ParseInput(fh, numeric, logger.With(map[string]any{"file": inputPath}))
		if err != nil {
			return fmt.Errorf("%s: %w", inputPath, err)
		}
		return nil
	})
	g.Go(func() error {
		fh, err := openReadable(ctx, queryPath)
		if err != nil {
			return err
		}
		defer fh.Close()
		queries, err = ParseQueries(fh, numeric, logger.With(map[string]any{"file": queryPath}))
		if err != nil {
			return fmt.Errorf("%s: %w", queryPath, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return inputs, queries, nil
}

func openReadable(ctx context.Context, path string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return fh, nil
}
