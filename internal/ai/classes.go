package ai

import (
	"bufio"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// COCOClasses are the 80 COCO class names in model output order
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// paletteSeed keeps class colours stable across runs
const paletteSeed = 42

// Color is a BGR colour
type Color struct {
	B, G, R uint8
}

// ClassTable maps class ids to names and drawing colours
type ClassTable struct {
	names  []string
	colors []Color
}

// NewClassTable builds a table for names with a seeded palette
func NewClassTable(names []string) *ClassTable {
	rng := rand.New(rand.NewSource(paletteSeed))
	colors := make([]Color, len(names))
	for i := range colors {
		colors[i] = Color{
			B: uint8(rng.Intn(255)),
			G: uint8(rng.Intn(255)),
			R: uint8(rng.Intn(255)),
		}
	}
	return &ClassTable{names: append([]string(nil), names...), colors: colors}
}

// DefaultClassTable returns the COCO table
func DefaultClassTable() *ClassTable {
	return NewClassTable(COCOClasses)
}

// LoadClassTable reads one class name per line. Blank lines and lines
// starting with # are skipped.
func LoadClassTable(fs afero.Fs, path string) (*ClassTable, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open class names file: %w", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read class names file: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("class names file %s is empty", path)
	}
	return NewClassTable(names), nil
}

// Len returns the number of classes
func (t *ClassTable) Len() int {
	return len(t.names)
}

// Name returns the class name, or the numeric id for unknown classes
func (t *ClassTable) Name(id int) string {
	if id < 0 || id >= len(t.names) {
		return strconv.Itoa(id)
	}
	return t.names[id]
}

// Color returns the class colour. Unknown classes are drawn white.
func (t *ClassTable) Color(id int) Color {
	if id < 0 || id >= len(t.colors) {
		return Color{255, 255, 255}
	}
	return t.colors[id]
}
