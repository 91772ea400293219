package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/census-naics/internal/census"
	"github.com/census-naics/internal/logging"
	"github.com/census-naics/internal/naics"
	"github.com/census-naics/internal/store"
)

// ErrNoGeographies means no geography listing produced a usable ZIP, so the table is left
// empty for the next run to retry.
var ErrNoGeographies = errors.New("no geographies listed")

// DimensionStore is the part of the fact store the bootstrapper writes to.
type DimensionStore interface {
	IsEmpty(ctx context.Context, table string) (bool, error)
	LoadGeographies(ctx context.Context, geos []store.Geography) error
	LoadIndustries(ctx context.Context, catalog naics.Catalog) error
	LoadYears(ctx context.Context, years []naics.YearRevision) error
}

// GeographyLister lists the ZIP code labels the API knows for a year.
type GeographyLister interface {
	ListGeographies(ctx context.Context, year int) ([]census.GeoLabel, error)
}

// BootstrapConfig holds the year ranges the dimensions cover.
type BootstrapConfig struct {
	GeographyStartYear int
	GeographyEndYear   int
	StartYear          int
	EndYear            int
}

// BootstrapStats reports what a bootstrap loaded. Zero counts mean the table was already
// populated.
type BootstrapStats struct {
	Geographies    int
	SkippedLabels  int
	FailedGeoYears []int
	Industries     int
	Years          int
}

// Bootstrapper fills the dimension tables of a freshly created store.
type Bootstrapper struct {
	store   DimensionStore
	lister  GeographyLister
	catalog naics.Catalog
	cfg     BootstrapConfig
	log     logrus.FieldLogger
}

// NewBootstrapper creates a bootstrapper.
func NewBootstrapper(st DimensionStore, lister GeographyLister, catalog naics.Catalog, cfg BootstrapConfig, log logrus.FieldLogger) *Bootstrapper {
	if log == nil {
		log = logging.Discard()
	}
	return &Bootstrapper{store: st, lister: lister, catalog: catalog, cfg: cfg, log: log}
}

// Run loads every empty dimension table. Geography is best effort per year but fails with
// ErrNoGeographies when no year yields a ZIP; industry and year load failures are returned.
func (b *Bootstrapper) Run(ctx context.Context) (BootstrapStats, error) {
	defer logging.Timing(b.log, "bootstrap dimensions")()

	var stats BootstrapStats

	empty, err := b.store.IsEmpty(ctx, store.TableGeography)
	if err != nil {
		return stats, err
	}
	if empty {
		if err := b.loadGeographies(ctx, &stats); err != nil {
			return stats, err
		}
	}

	empty, err = b.store.IsEmpty(ctx, store.TableIndustry)
	if err != nil {
		return stats, err
	}
	if empty {
		if err := b.store.LoadIndustries(ctx, b.catalog); err != nil {
			return stats, fmt.Errorf("load industry dimension: %w", err)
		}
		stats.Industries = len(b.catalog)
		b.log.WithField("rows", stats.Industries).Info("Loaded industry dimension")
	}

	empty, err = b.store.IsEmpty(ctx, store.TableYear)
	if err != nil {
		return stats, err
	}
	if empty {
		years := naics.YearRange(b.cfg.StartYear, b.cfg.EndYear)
		if err := b.store.LoadYears(ctx, years); err != nil {
			return stats, fmt.Errorf("load year dimension: %w", err)
		}
		stats.Years = len(years)
		b.log.WithField("rows", stats.Years).Info("Loaded year dimension")
	}

	return stats, nil
}

func (b *Bootstrapper) loadGeographies(ctx context.Context, stats *BootstrapStats) error {
	seen := make(map[string]store.Geography)

	for year := b.cfg.GeographyStartYear; year <= b.cfg.GeographyEndYear; year++ {
		labels, err := b.lister.ListGeographies(ctx, year)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.WithError(err).WithField("year", year).Warn("Skipping geography year")
			stats.FailedGeoYears = append(stats.FailedGeoYears, year)
			continue
		}

		for _, l := range labels {
			if l.GeoID == store.SentinelGeoID || store.ValidateZip(l.GeoID) != nil {
				stats.SkippedLabels++
				continue
			}
			if _, ok := seen[l.GeoID]; ok {
				continue
			}
			city, state, ok := census.ParseGeoLabel(l.Label)
			if !ok {
				b.log.WithFields(logrus.Fields{"year": year, "label": l.Label}).Debug("Unparseable geography label")
				stats.SkippedLabels++
				continue
			}
			seen[l.GeoID] = store.Geography{GeoID: l.GeoID, City: city, State: state}
		}
	}

	if len(seen) == 0 {
		b.log.WithFields(logrus.Fields{
			"skipped_labels": stats.SkippedLabels,
			"failed_years":   len(stats.FailedGeoYears),
		}).Error("Geography listing returned no usable ZIP codes")
		return fmt.Errorf("load geography dimension %d-%d: %w", b.cfg.GeographyStartYear, b.cfg.GeographyEndYear, ErrNoGeographies)
	}

	geos := make([]store.Geography, 0, len(seen)+1)
	for _, g := range seen {
		geos = append(geos, g)
	}
	sort.Slice(geos, func(i, j int) bool { return geos[i].GeoID < geos[j].GeoID })
	geos = append(geos, store.Geography{GeoID: store.SentinelGeoID})

	if err := b.store.LoadGeographies(ctx, geos); err != nil {
		return fmt.Errorf("load geography dimension: %w", err)
	}
	stats.Geographies = len(geos)
	b.log.WithFields(logrus.Fields{
		"rows":           len(geos),
		"skipped_labels": stats.SkippedLabels,
		"failed_years":   len(stats.FailedGeoYears),
	}).Info("Loaded geography dimension")
	return nil
}
