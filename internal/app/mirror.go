package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/portal-backup/internal/compress"
	"github.com/rowjay/portal-backup/internal/cryptoutil"
	"github.com/rowjay/portal-backup/internal/logging"
	"github.com/rowjay/portal-backup/internal/storage"
	"github.com/rowjay/portal-backup/internal/util"
	"github.com/rowjay/portal-backup/internal/version"
)

// mirror copies every verified archive of this run, then the ledger, to the
// configured storage. It returns the number of archives stored.
func (a *App) mirror(ctx context.Context, log zerolog.Logger, res *RunResult) int {
	kind, err := compress.ParseKind(a.Cfg.Mirror.Compression)
	if err != nil {
		log.Error().Err(err).Msg("mirror skipped")
		return 0
	}
	ext := buildExtension(kind, a.Cfg.Mirror.Encryption)
	stored := 0
	for _, o := range res.Log.Successful() {
		itemLog := logging.ForDataset(log, o.ItemID, o.ItemName)
		key := util.BuildObjectKey(a.Cfg.Mirror.Storage.Prefix, o.ItemName, filepath.Base(o.ZipPath)+ext)
		manifest, err := a.mirrorFile(ctx, o.ZipPath, key, kind, "pbu-archive")
		if err != nil {
			itemLog.Warn().Err(err).Str("key", key).Msg("could not mirror archive")
			continue
		}
		manifest.RunID = res.RunID
		manifest.ItemID = o.ItemID
		manifest.ItemName = o.ItemName
		manifest.ItemTitle = o.ItemTitle
		if err := a.writeManifest(ctx, manifest); err != nil {
			itemLog.Warn().Err(err).Msg("failed to write manifest")
		}
		itemLog.Info().Str("key", key).Int64("bytes", manifest.StoredBytes).Msg("archive mirrored")
		stored++
	}

	if res.LedgerSaved {
		key := util.BuildObjectKey(a.Cfg.Mirror.Storage.Prefix, "", filepath.Base(a.Ledger.Path)+ext)
		if _, err := a.mirrorFile(ctx, a.Ledger.Path, key, kind, "pbu-ledger"); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("could not mirror ledger")
		}
	}
	return stored
}

// mirrorFile streams src through the configured compression and encryption
// into key.
func (a *App) mirrorFile(ctx context.Context, src, key string, kind compress.Kind, tag string) (storage.Manifest, error) {
	f, err := os.Open(src)
	if err != nil {
		return storage.Manifest{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return storage.Manifest{}, err
	}

	pipeReader, pipeWriter := io.Pipe()
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer pipeReader.Close()
		return a.Mirror.Put(egCtx, key, pipeReader, -1, map[string]string{tag: "true"})
	})

	eg.Go(func() error {
		// Encrypt the compressed stream: file -> compress -> encrypt -> pipe.
		writer := io.Writer(pipeWriter)
		closers := []io.Closer{}
		if a.Cfg.Mirror.Encryption {
			keyBytes, err := cryptoutil.ParseKey(a.Cfg.Mirror.EncryptionKey)
			if err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			encWriter, err := cryptoutil.EncryptWriter(writer, keyBytes)
			if err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			writer = encWriter
			closers = append(closers, encWriter)
		}
		if kind != compress.None {
			compWriter, err := kind.NewWriter(writer)
			if err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			writer = compWriter
			closers = append(closers, compWriter)
		}
		if _, err := io.Copy(writer, f); err != nil {
			_ = pipeWriter.CloseWithError(err)
			return err
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
		}
		return pipeWriter.Close()
	})

	if err := eg.Wait(); err != nil {
		return storage.Manifest{}, fmt.Errorf("mirror %s: %w", key, err)
	}

	stat, err := a.Mirror.Stat(ctx, key)
	if err != nil {
		return storage.Manifest{}, err
	}
	return storage.Manifest{
		Key:         key,
		SourcePath:  src,
		Compression: string(kind),
		Encryption:  a.Cfg.Mirror.Encryption,
		CreatedAt:   a.Clock.Now().UTC(),
		SourceBytes: info.Size(),
		StoredBytes: stat.Size,
		ToolVersion: version.Version,
	}, nil
}

func (a *App) writeManifest(ctx context.Context, manifest storage.Manifest) error {
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	key := storage.ManifestKey(manifest.Key)
	return a.Mirror.Put(ctx, key, strings.NewReader(string(payload)), int64(len(payload)), map[string]string{"pbu-manifest": "true"})
}

// MirrorList returns the mirrored objects under prefix, manifests excluded.
func (a *App) MirrorList(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if a.Mirror == nil {
		return nil, fmt.Errorf("mirror is not enabled")
	}
	full := util.BuildObjectKey(a.Cfg.Mirror.Storage.Prefix, "", prefix)
	objects, err := a.Mirror.List(ctx, strings.TrimSuffix(full, "/"))
	if err != nil {
		return nil, err
	}
	out := objects[:0]
	for _, obj := range objects {
		if !obj.IsManifest {
			out = append(out, obj)
		}
	}
	return out, nil
}

func buildExtension(kind compress.Kind, encryption bool) string {
	ext := kind.Extension()
	if encryption {
		ext += ".enc"
	}
	return ext
}
