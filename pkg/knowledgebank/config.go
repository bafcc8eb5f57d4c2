package knowledgebank

// Supported knowledge bank variants.
const (
	TypeInMemory = "in_memory"
	TypeSQLite   = "sqlite"
)

// Config selects and parameterizes a knowledge bank variant. Type is a
// closed tag; variant-specific settings live in the matching sub-config.
type Config struct {
	Type        string            `json:"type,omitempty"`
	Initializer InitializerConfig `json:"initializer,omitempty"`
	SQLite      *SQLiteConfig     `json:"sqlite,omitempty"`
}

// SQLiteConfig holds settings for the sqlite-backed bank.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string `json:"path"`
}

// InitializerConfig selects the initializer used by lazy-creating lookups.
// At most one field may be set; an empty config means zero initialization.
type InitializerConfig struct {
	Zero          *ZeroInitializerConfig          `json:"zero,omitempty"`
	RandomUniform *RandomUniformInitializerConfig `json:"random_uniform,omitempty"`
}

// ZeroInitializerConfig initializes new embeddings to the all-zero vector.
type ZeroInitializerConfig struct{}

// RandomUniformInitializerConfig initializes each component uniformly at
// random in [Low, High).
type RandomUniformInitializerConfig struct {
	Low  float32 `json:"low"`
	High float32 `json:"high"`
}
