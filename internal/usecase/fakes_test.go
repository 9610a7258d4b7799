package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gisops/layerkeeper/internal/domain"
)

// fakePortal is the in-memory double for the content platform used across
// the pipeline tests.
type fakePortal struct {
	mu       sync.Mutex
	username string
	items    []domain.Item

	searchErr error
	getErr    map[string]error
	exportErr map[string]error
	deleteErr map[string]error

	// deliver controls what Download produces; the default writes a zip
	// named after the export title.
	deliver func(item domain.Item, title, dir string) (string, error)

	deleted []string
	exports []string
}

func newFakePortal(username string, items ...domain.Item) *fakePortal {
	return &fakePortal{
		username:  username,
		items:     items,
		getErr:    map[string]error{},
		exportErr: map[string]error{},
		deleteErr: map[string]error{},
	}
}

func (p *fakePortal) Username() string { return p.username }

func (p *fakePortal) Search(ctx context.Context, query string, max int) ([]domain.Item, error) {
	if p.searchErr != nil {
		return nil, p.searchErr
	}

	var out []domain.Item
	for _, item := range p.items {
		if strings.Contains(query, fmt.Sprintf("type:'%s'", item.Type)) {
			out = append(out, item)
		}
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

func (p *fakePortal) Get(ctx context.Context, id string) (*domain.Item, error) {
	if err := p.getErr[id]; err != nil {
		return nil, err
	}
	for _, item := range p.items {
		if item.ID == id {
			found := item
			return &found, nil
		}
	}
	return nil, fmt.Errorf("item not found: %s", id)
}

func (p *fakePortal) Export(ctx context.Context, itemID, title, format string) (domain.Export, error) {
	if err := p.exportErr[itemID]; err != nil {
		return nil, err
	}

	item, err := p.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.exports = append(p.exports, title)
	p.mu.Unlock()

	return &fakeExport{portal: p, item: *item, title: title}, nil
}

func (p *fakePortal) Delete(ctx context.Context, itemID string) error {
	if err := p.deleteErr[itemID]; err != nil {
		return err
	}
	p.mu.Lock()
	p.deleted = append(p.deleted, itemID)
	p.mu.Unlock()
	return nil
}

type fakeExport struct {
	portal *fakePortal
	item   domain.Item
	title  string
}

func (e *fakeExport) ItemID() string { return "export-" + e.item.ID }

func (e *fakeExport) Download(ctx context.Context, dir string) (string, error) {
	if e.portal.deliver != nil {
		return e.portal.deliver(e.item, e.title, dir)
	}

	path := filepath.Join(dir, e.title+".zip")
	if err := os.WriteFile(path, []byte("fgdb archive for "+e.item.ID), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// deliverFolder makes the fake portal hand back an unpacked directory
// instead of a zip, the case the archiver has to normalize.
func deliverFolder(files map[string]string) func(domain.Item, string, string) (string, error) {
	return func(_ domain.Item, title, dir string) (string, error) {
		root := filepath.Join(dir, title)
		for rel, content := range files {
			path := filepath.Join(root, rel)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return "", err
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return "", err
			}
		}
		return root, nil
	}
}

// testLogger records formatted log lines for assertions.
type testLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *testLogger) logf(level, template string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+fmt.Sprintf(template, args...))
}

func (l *testLogger) Infof(template string, args ...interface{})  { l.logf("INFO", template, args) }
func (l *testLogger) Errorf(template string, args ...interface{}) { l.logf("ERROR", template, args) }
func (l *testLogger) Warnf(template string, args ...interface{})  { l.logf("WARN", template, args) }

func (l *testLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if strings.Contains(entry, substr) {
			return true
		}
	}
	return false
}
