package obs

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide logger. It writes one JSON object per
// line with no prefix or flags; callers supply every field themselves.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one structured line for an HTTP request or error event.
// A field set that cannot be marshaled is reported instead of dropped.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(fmt.Sprintf(`{"level":"error","msg":"log marshal failed","detail":%q}`, err.Error()))
		return
	}
	Logger().Println(string(data))
}
