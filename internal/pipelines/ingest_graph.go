package pipelines

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
)

const (
	// MaxIngestFiles bounds how many notes one ingestion run indexes.
	MaxIngestFiles = 50
	VaultService   = "vault"
)

var wikiLink = regexp.MustCompile(`\[\[([^\]|]+)(?:\|[^\]]+)?\]\]`)

// IngestState is the state of the vault-ingest graph. Backlinks maps a
// note's stem to the targets of its wiki links, in document order.
type IngestState struct {
	VaultPath    string              `json:"vault_path"`
	FilesFound   []string            `json:"files_found"`
	Backlinks    map[string][]string `json:"backlinks_graph"`
	FilesIndexed []string            `json:"files_indexed"`
	CurrentStep  string              `json:"current_step"`
}

func IngestStateFromParams(p models.Params) (*IngestState, error) {
	path, err := requireParam(p, "vault_path")
	if err != nil {
		return nil, err
	}
	return &IngestState{VaultPath: path, Backlinks: map[string][]string{}, CurrentStep: "init"}, nil
}

type ingestNodes struct {
	deps Deps
}

// NewIngestGraph builds scan -> backlinks -> index.
func NewIngestGraph(deps Deps) *workflow.Graph[IngestState] {
	n := ingestNodes{deps: deps}
	return workflow.NewGraph[IngestState](VaultIngestName, "Ingest a markdown vault with its backlinks graph").
		WithLogger(deps.Logger).
		AddNode("scan", n.scan).
		AddNode("backlinks", n.backlinks).
		AddNode("index", n.index).
		SetEntry("scan").
		AddEdge("scan", "backlinks").
		AddEdge("backlinks", "index").
		AddEdge("index", workflow.End)
}

func (n ingestNodes) scan(ctx context.Context, s *IngestState) (workflow.Emit, error) {
	s.CurrentStep = "scan"
	emit := workflow.Logf("Scanning vault: %s", s.VaultPath)
	s.FilesFound = []string{}

	info, err := os.Stat(s.VaultPath)
	if err != nil || !info.IsDir() {
		return emit.Errorf("Vault not found: %s", s.VaultPath), nil
	}
	var found []string
	err = filepath.WalkDir(s.VaultPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return emit.Errorf("Scan failed: %v", err), nil
	}
	sort.Strings(found)
	s.FilesFound = found
	return emit.Logf("Found %d markdown files", len(found)), nil
}

func (n ingestNodes) backlinks(ctx context.Context, s *IngestState) (workflow.Emit, error) {
	s.CurrentStep = "backlinks"
	emit := workflow.Logf("Extracting backlinks graph...")

	graph := make(map[string][]string, len(s.FilesFound))
	total := 0
	for _, path := range s.FilesFound {
		content, err := os.ReadFile(path)
		if err != nil {
			emit = emit.Errorf("Error reading %s: %v", path, err)
			continue
		}
		links := ExtractWikiLinks(string(content))
		graph[noteStem(path)] = links
		total += len(links)
	}
	s.Backlinks = graph
	return emit.Logf("Extracted %d backlinks from %d files", total, len(graph)), nil
}

func (n ingestNodes) index(ctx context.Context, s *IngestState) (workflow.Emit, error) {
	s.CurrentStep = "index"
	emit := workflow.Logf("Indexing vault for semantic search...")
	s.FilesIndexed = []string{}
	if n.deps.Indexer == nil {
		return emit.Errorf("Indexing failed: no indexer configured"), nil
	}

	files := s.FilesFound
	if len(files) > MaxIngestFiles {
		files = files[:MaxIngestFiles]
	}
	for _, path := range files {
		stem := noteStem(path)
		meta := map[string]string{"backlinks": strings.Join(s.Backlinks[stem], ",")}
		chunks, err := n.deps.Indexer.IndexFile(ctx, path, VaultService+":"+stem, VaultService, meta)
		if err != nil {
			emit = emit.Errorf("Failed to index %s: %v", path, err)
			continue
		}
		if chunks > 0 {
			s.FilesIndexed = append(s.FilesIndexed, path)
		}
	}
	return emit.Logf("Indexed %d files", len(s.FilesIndexed)), nil
}

// ExtractWikiLinks returns the targets of [[target]] and [[target|alias]]
// links in order of appearance.
func ExtractWikiLinks(content string) []string {
	matches := wikiLink.FindAllStringSubmatch(content, -1)
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		links = append(links, m[1])
	}
	return links
}

func noteStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
