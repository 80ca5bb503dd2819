package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sourceplane/fareflow/internal/model"
)

// Renderer materializes definitions into platform documents
type Renderer struct {
	RoleARN string
}

// NewRenderer creates a renderer whose steps run under roleARN
func NewRenderer(roleARN string) *Renderer {
	return &Renderer{RoleARN: roleARN}
}

// RenderJSON renders the platform definition as JSON
func (r *Renderer) RenderJSON(def *model.Definition) ([]byte, error) {
	return PlatformJSON(def, r.RoleARN)
}

// RenderYAML renders the platform definition as YAML, keeping the JSON key names
func (r *Renderer) RenderYAML(def *model.Definition) ([]byte, error) {
	data, err := r.RenderJSON(def)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// WriteDefinition writes def to file (JSON or YAML based on extension)
func (r *Renderer) WriteDefinition(def *model.Definition, path string) error {
	var data []byte
	var err error

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = r.RenderYAML(def)
	default:
		data, err = r.RenderJSON(def)
	}
	if err != nil {
		return fmt.Errorf("failed to render definition: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write definition to %s: %w", path, err)
	}
	return nil
}
