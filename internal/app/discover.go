package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rowjay/portal-backup/internal/ledger"
	"github.com/rowjay/portal-backup/internal/logging"
	"github.com/rowjay/portal-backup/internal/portal"
)

// dataset pairs a portal item with the record observed for it this run.
type dataset struct {
	item   portal.Item
	record ledger.Record
}

var nameReplacer = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

// folderName is the on-disk name for an item; items without a service name
// fall back to their id.
func folderName(item portal.Item) string {
	name := strings.TrimSpace(item.Name)
	if name == "" {
		return item.ID
	}
	return nameReplacer.Replace(name)
}

// discover searches the portal and reads the edit metadata of every hosted
// feature service found. Items whose metadata cannot be read are left out of
// the run and counted as unreadable.
func (a *App) discover(ctx context.Context, log zerolog.Logger) ([]dataset, int, error) {
	items, err := a.Portal.Search(ctx, a.Cfg.Backup.Tag, a.Cfg.Backup.ItemType, a.Cfg.Backup.MaxResults)
	if err != nil {
		return nil, 0, fmt.Errorf("search datasets tagged %q: %w", a.Cfg.Backup.Tag, err)
	}
	log.Info().Int("items", len(items)).Str("tag", a.Cfg.Backup.Tag).Msg("search complete")

	var out []dataset
	unreadable := 0
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		itemLog := logging.ForDataset(log, item.ID, item.Name)
		if !item.IsHostedFeatureService() {
			itemLog.Info().Str("item_title", item.Title).Msg("not a hosted feature service, skipping")
			continue
		}
		meta, err := a.Portal.Metadata(ctx, item)
		if err != nil {
			itemLog.Error().Err(err).Msg("could not read service metadata, skipping")
			unreadable++
			continue
		}
		lastEdit := meta.LastEdit()
		item.Name = folderName(item)
		out = append(out, dataset{
			item: item,
			record: ledger.Record{
				ItemID:       item.ID,
				ItemName:     item.Name,
				ItemTitle:    item.Title,
				ModifiedTS:   meta.Modified,
				LastEditTS:   lastEdit,
				LastEditText: ledger.FormatTS(lastEdit),
			},
		})
		itemLog.Debug().Str("last_edit", ledger.FormatTS(lastEdit)).Msg("read service metadata")
	}
	return out, unreadable, nil
}
