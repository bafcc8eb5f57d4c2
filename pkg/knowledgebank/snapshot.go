package knowledgebank

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MetadataFileName is the fixed name of the snapshot metadata file written
// by Export. Callers that know the export directory can locate a snapshot
// without parsing the returned path.
const MetadataFileName = "embedding_store_meta_data.json"

// checkpointMetadata is the content of the metadata file. It points at the
// checkpoint file holding the actual embedding data.
type checkpointMetadata struct {
	CheckpointSavedPath string `json:"checkpoint_saved_path"`
	EmbeddingDimension  int    `json:"embedding_dimension"`
	CreatedAtUnix       int64  `json:"created_at_unix"`
}

type checkpointData struct {
	EmbeddingDimension int                  `json:"embedding_dimension"`
	Entries            map[string]Embedding `json:"entries"`
}

// writeCheckpoint writes a snapshot (checkpoint plus metadata file) under
// dir and returns the metadata file path.
func writeCheckpoint(dir, dataFileName string, dim int, entries map[string]Embedding) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	dataPath := filepath.Join(dir, dataFileName)
	data, err := json.Marshal(checkpointData{EmbeddingDimension: dim, Entries: entries})
	if err != nil {
		return "", fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}

	metaPath := filepath.Join(dir, MetadataFileName)
	meta, err := json.Marshal(checkpointMetadata{
		CheckpointSavedPath: dataPath,
		EmbeddingDimension:  dim,
		CreatedAtUnix:       time.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode checkpoint metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, meta, 0o644); err != nil {
		return "", fmt.Errorf("failed to write checkpoint metadata: %w", err)
	}
	return metaPath, nil
}

// readCheckpoint loads the snapshot described by the metadata file at
// metaPath and verifies its dimension against dim.
func readCheckpoint(metaPath string, dim int) (map[string]Embedding, error) {
	metaRaw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint metadata: %w", err)
	}
	var meta checkpointMetadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint metadata: %w", err)
	}

	dataRaw, err := os.ReadFile(meta.CheckpointSavedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var data checkpointData
	if err := json.Unmarshal(dataRaw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	if data.EmbeddingDimension != dim {
		return nil, fmt.Errorf("checkpoint dimension %d does not match bank dimension %d",
			data.EmbeddingDimension, dim)
	}
	if data.Entries == nil {
		data.Entries = make(map[string]Embedding)
	}
	return data.Entries, nil
}
