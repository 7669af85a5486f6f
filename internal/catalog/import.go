package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReadBuildFile decodes a build document. Files ending in .json are decoded as
// JSON; everything else goes through YAML, which also accepts JSON input.
func ReadBuildFile(path string) (*Build, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build file: %w", err)
	}
	return DecodeBuild(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// DecodeBuild parses a build document and fills in derived fields.
func DecodeBuild(data []byte, isJSON bool) (*Build, error) {
	var build Build
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&build); err != nil {
			return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidBuild, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&build); err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidBuild, err)
		}
	}
	normalizeBuild(&build)
	if err := ValidateBuild(&build); err != nil {
		return nil, err
	}
	return &build, nil
}

func normalizeBuild(build *Build) {
	build.ID = strings.TrimSpace(build.ID)
	build.Name = strings.TrimSpace(build.Name)
	for i := range build.Entries {
		build.Entries[i].PartID = strings.TrimSpace(build.Entries[i].PartID)
		build.Entries[i].ElementID = strings.TrimSpace(build.Entries[i].ElementID)
	}
	for i := range build.Templates {
		t := &build.Templates[i]
		t.PartID = strings.TrimSpace(t.PartID)
		t.ElementID = strings.TrimSpace(t.ElementID)
		t.ID = t.Key()
	}

	// Group membership may be declared on either side; merge both into the
	// group list and mirror it back onto templates.
	index := make(map[string]int, len(build.Groups))
	for i, g := range build.Groups {
		build.Groups[i].Name = strings.TrimSpace(g.Name)
		index[FoldKey(g.Name)] = i
	}
	for _, t := range build.Templates {
		for _, name := range t.ConfusionGroups {
			key := FoldKey(name)
			i, ok := index[key]
			if !ok {
				build.Groups = append(build.Groups, ConfusionGroup{Name: strings.TrimSpace(name)})
				i = len(build.Groups) - 1
				index[key] = i
			}
			if !slices.Contains(build.Groups[i].Members, t.ID) {
				build.Groups[i].Members = append(build.Groups[i].Members, t.ID)
			}
		}
	}
	membership := make(map[string][]string)
	for _, g := range build.Groups {
		for _, m := range g.Members {
			if !slices.Contains(membership[m], g.Name) {
				membership[m] = append(membership[m], g.Name)
			}
		}
	}
	for i := range build.Templates {
		build.Templates[i].ConfusionGroups = membership[build.Templates[i].ID]
	}
}

// ValidateBuild checks a build for structural problems before it is stored
// or handed to the matching core.
func ValidateBuild(build *Build) error {
	if build == nil {
		return fmt.Errorf("%w: nil build", ErrInvalidBuild)
	}
	if build.ID == "" {
		return fmt.Errorf("%w: build id is required", ErrInvalidBuild)
	}

	seenEntries := make(map[string]struct{}, len(build.Entries))
	for _, e := range build.Entries {
		key := TemplateKey(e.PartID, e.ColorID, e.ElementID)
		if e.PartID == "" {
			return fmt.Errorf("%w: bom entry with empty part_id", ErrInvalidBuild)
		}
		if e.Quantity < 0 {
			return fmt.Errorf("%w: bom entry %s has negative quantity %d", ErrInvalidBuild, key, e.Quantity)
		}
		if _, dup := seenEntries[key]; dup {
			return fmt.Errorf("%w: duplicate bom entry %s", ErrInvalidBuild, key)
		}
		seenEntries[key] = struct{}{}
	}

	seenTemplates := make(map[string]struct{}, len(build.Templates))
	dims := map[string]int{}
	for _, t := range build.Templates {
		id := t.Key()
		if t.PartID == "" {
			return fmt.Errorf("%w: template %s has empty part_id", ErrInvalidBuild, id)
		}
		if _, dup := seenTemplates[id]; dup {
			return fmt.Errorf("%w: duplicate template %s", ErrInvalidBuild, id)
		}
		seenTemplates[id] = struct{}{}
		if len(t.Embeddings.Image) == 0 {
			return fmt.Errorf("%w: template %s has no image embedding", ErrInvalidBuild, id)
		}
		for modality, vec := range map[string][]float32{
			"image": t.Embeddings.Image,
			"meta":  t.Embeddings.Meta,
			"text":  t.Embeddings.Text,
		} {
			if len(vec) == 0 {
				continue
			}
			if want, ok := dims[modality]; ok && want != len(vec) {
				return fmt.Errorf("%w: template %s %s embedding has %d dims, expected %d",
					ErrInvalidBuild, id, modality, len(vec), want)
			}
			dims[modality] = len(vec)
		}
		if t.ExpectedArea < 0 {
			return fmt.Errorf("%w: template %s has negative expected_area", ErrInvalidBuild, id)
		}
	}

	for _, g := range build.Groups {
		if strings.TrimSpace(g.Name) == "" {
			return fmt.Errorf("%w: confusion group with empty name", ErrInvalidBuild)
		}
		for _, m := range g.Members {
			if _, ok := seenTemplates[m]; !ok {
				return fmt.Errorf("%w: confusion group %q references unknown template %s", ErrInvalidBuild, g.Name, m)
			}
		}
	}
	return nil
}
