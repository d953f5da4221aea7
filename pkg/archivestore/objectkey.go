package archivestore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateObjectKey builds the storage key for one flushed batch:
// {prefix}/{partitionKey}/archive_{uuid}.json.gz, with doubled separators
// collapsed. The UUID is freshly random on every call and never derived from
// batch content, so a retried flush of the same batch can never overwrite an
// earlier, possibly partial, upload.
func GenerateObjectKey(prefix, partitionKey string) string {
	key := fmt.Sprintf("%s/%s/archive_%s.json.gz", prefix, partitionKey, uuid.New().String())
	for strings.Contains(key, "//") {
		key = strings.ReplaceAll(key, "//", "/")
	}
	return key
}
