package csvdir

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"evsite/internal/integrations"
	"evsite/internal/model"
	"evsite/internal/opt"
)

// Dir reads and writes country tables laid out as
//
//	<Root>/countries.csv
//	<Root>/<ISO3>/<ISO3>_customers.csv
//	<Root>/<ISO3>/<ISO3>_ev_centers.csv
//	<Root>/<ISO3>/<ISO3>_region.csv
//
// and writes <ISO3>_optimized_ev_center.csv and <ISO3>_served_customers.csv
// next to them.
type Dir struct {
	Root string
}

var (
	_ integrations.TableSource = Dir{}
	_ integrations.PlanSink    = Dir{}
)

func (d Dir) Name() string { return "csv-dir" }

func (d Dir) CountryDir(iso3 string) string {
	return filepath.Join(d.Root, strings.ToUpper(iso3))
}

func (d Dir) file(iso3, suffix string) string {
	iso3 = strings.ToUpper(iso3)
	return filepath.Join(d.Root, iso3, iso3+suffix)
}

// SitePath is where the augmented site table of a country is written.
func (d Dir) SitePath(iso3 string) string { return d.file(iso3, "_optimized_ev_center.csv") }

// AllocationPath is where the served-customer allocations are written.
func (d Dir) AllocationPath(iso3 string) string { return d.file(iso3, "_served_customers.csv") }

func (d Dir) Countries(ctx context.Context) ([]model.Country, error) {
	t, err := readTable(filepath.Join(d.Root, "countries.csv"), "iso3")
	if err != nil {
		return nil, err
	}
	out := make([]model.Country, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, model.Country{
			ISO3:    strings.ToUpper(t.get(r, "iso3")),
			Name:    t.get(r, "country"),
			Region:  t.get(r, "region"),
			Exclude: parseBool(t.get(r, "exclude")),
		})
	}
	return out, nil
}

func (d Dir) Customers(ctx context.Context, iso3 string) ([]model.Customer, error) {
	t, err := readTable(d.file(iso3, "_customers.csv"), "customer_id", "admin_name", "latitude", "longitude", "demand")
	if err != nil {
		return nil, err
	}
	out := make([]model.Customer, 0, len(t.rows))
	for i, r := range t.rows {
		loc, err := t.coordinate(r, i)
		if err != nil {
			return nil, err
		}
		demand, err := t.float(r, i, "demand")
		if err != nil {
			return nil, err
		}
		out = append(out, model.Customer{
			ID:        t.get(r, "customer_id"),
			AdminName: t.get(r, "admin_name"),
			Location:  loc,
			Demand:    demand,
		})
	}
	return out, nil
}

func (d Dir) Sites(ctx context.Context, iso3 string) ([]model.CandidateSite, error) {
	t, err := readTable(d.file(iso3, "_ev_centers.csv"), "admin_name", "latitude", "longitude")
	if err != nil {
		return nil, err
	}
	out := make([]model.CandidateSite, 0, len(t.rows))
	for i, r := range t.rows {
		loc, err := t.coordinate(r, i)
		if err != nil {
			return nil, err
		}
		out = append(out, model.CandidateSite{AdminName: t.get(r, "admin_name"), Location: loc})
	}
	return out, nil
}

func (d Dir) Regions(ctx context.Context, iso3 string) ([]model.Region, error) {
	t, err := readTable(d.file(iso3, "_region.csv"), "admin_name", "latitude", "longitude", "demand")
	if err != nil {
		return nil, err
	}
	out := make([]model.Region, 0, len(t.rows))
	for i, r := range t.rows {
		loc, err := t.coordinate(r, i)
		if err != nil {
			return nil, err
		}
		demand, err := t.float(r, i, "demand")
		if err != nil {
			return nil, err
		}
		out = append(out, model.Region{AdminName: t.get(r, "admin_name"), Location: loc, Demand: demand})
	}
	return out, nil
}

var siteHeader = []string{
	"ev_center_id", "admin_name", "latitude", "longitude",
	"build", "value", "minimized_cost", "distance_km", "allocated_demand", "served_customers",
}

var allocationHeader = []string{"customer_id", "ev_center_id", "quantity", "access_cost"}

// WritePlan writes the augmented site table and the allocation table of a
// plan, creating the country directory when needed. Both tables are staged
// as temporary files before either is moved into place; when the second move
// fails the previous site table is restored, so the pair never mixes runs.
func (d Dir) WritePlan(ctx context.Context, plan model.Plan) error {
	if plan.Country == "" {
		return fmt.Errorf("write plan: missing country")
	}
	if err := os.MkdirAll(d.CountryDir(plan.Country), 0o755); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}

	sites := make([][]string, 0, len(plan.Sites))
	for _, s := range plan.Sites {
		sites = append(sites, []string{
			s.SiteID, s.AdminName, ftoa(s.Location.Lat), ftoa(s.Location.Lng),
			s.Build, strconv.Itoa(s.Value), ftoa(s.MinimizedCost), ftoa(s.DistanceKm),
			ftoa(s.AllocatedDemand), strconv.Itoa(s.ServedCustomers),
		})
	}
	allocs := make([][]string, 0, len(plan.Allocations))
	for _, a := range plan.Allocations {
		allocs = append(allocs, []string{a.CustomerID, a.SiteID, ftoa(a.Quantity), ftoa(a.Cost)})
	}

	sitePath, allocPath := d.SitePath(plan.Country), d.AllocationPath(plan.Country)
	siteTmp, err := writeTemp(sitePath, siteHeader, sites)
	if err != nil {
		return fmt.Errorf("write plan sites: %w", err)
	}
	defer func() { _ = os.Remove(siteTmp) }()
	allocTmp, err := writeTemp(allocPath, allocationHeader, allocs)
	if err != nil {
		return fmt.Errorf("write plan allocations: %w", err)
	}
	defer func() { _ = os.Remove(allocTmp) }()

	backup := ""
	if _, err := os.Stat(sitePath); err == nil {
		backup = siteTmp + ".prev"
		if err := os.Rename(sitePath, backup); err != nil {
			return fmt.Errorf("write plan sites: %w", err)
		}
		defer func() { _ = os.Remove(backup) }()
	}
	if err := os.Rename(siteTmp, sitePath); err != nil {
		restore(sitePath, backup)
		return fmt.Errorf("write plan sites: %w", err)
	}
	if err := os.Rename(allocTmp, allocPath); err != nil {
		restore(sitePath, backup)
		return fmt.Errorf("write plan allocations: %w", err)
	}
	return nil
}

// restore puts the previous site table back, or removes the new one when
// there was none.
func restore(path, backup string) {
	if backup == "" {
		_ = os.Remove(path)
		return
	}
	_ = os.Rename(backup, path)
}

// writeTemp writes a CSV file next to path and returns its name.
func writeTemp(path string, header []string, rows [][]string) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

type table struct {
	path string
	cols map[string]int
	rows [][]string
}

func readTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", opt.ErrDataInconsistency, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s is empty", opt.ErrDataInconsistency, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", opt.ErrDataInconsistency, path, err)
	}
	t := &table{path: path, cols: make(map[string]int, len(header))}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := t.cols[h]; !seen {
			t.cols[h] = i
		}
	}
	for _, c := range required {
		if _, ok := t.cols[c]; !ok {
			return nil, fmt.Errorf("%w: %s has no %q column", opt.ErrDataInconsistency, path, c)
		}
	}
	t.rows, err = r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", opt.ErrDataInconsistency, path, err)
	}
	return t, nil
}

func (t *table) get(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) float(row []string, idx int, col string) (float64, error) {
	v, err := strconv.ParseFloat(t.get(row, col), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s row %d: bad %s %q", opt.ErrDataInconsistency, t.path, idx+2, col, t.get(row, col))
	}
	return v, nil
}

func (t *table) coordinate(row []string, idx int) (model.Coordinate, error) {
	lat, err := t.float(row, idx, "latitude")
	if err != nil {
		return model.Coordinate{}, err
	}
	lng, err := t.float(row, idx, "longitude")
	if err != nil {
		return model.Coordinate{}, err
	}
	return model.Coordinate{Lat: lat, Lng: lng}, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "1.0", "true", "yes", "y":
		return true
	}
	return false
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
