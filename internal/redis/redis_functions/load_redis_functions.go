package redis_functions

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Function names registered by the embedded libraries.
const (
	RoomCodeSet = "room_code_set"
)

//go:embed *.lua
var fs embed.FS

// Sources returns every embedded Lua library keyed by file name.
func Sources() (map[string]string, error) {
	files, err := fs.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read embed dir: %w", err)
	}
	out := make(map[string]string, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".lua") {
			continue
		}
		code, err := fs.ReadFile(f.Name())
		if err != nil {
			return nil, err
		}
		out[f.Name()] = string(code)
	}
	return out, nil
}

// LoadAll loads/replaces every embedded library in Redis. Run once at boot,
// before anything issues FCALL.
func LoadAll(ctx context.Context, rdb *redis.Client) error {
	sources, err := Sources()
	if err != nil {
		return err
	}
	for name, code := range sources {
		if err := rdb.FunctionLoadReplace(ctx, code).Err(); err != nil {
			return fmt.Errorf("load lua %s: %w", name, err)
		}
		zap.L().Info("redis.function_loaded", zap.String("file", name))
	}
	return nil
}
