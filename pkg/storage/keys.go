package storage

import (
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/validate"
)

// MediaKey builds the object key for a generated blob:
// "<alias>/<kind>/act-<n>-scene-<m>-<id><ext>". The alias falls back to a
// slug of the title, then to "script-<id>".
func MediaKey(script domain.Script, kind domain.MediaKind, act, scene int, contentType string) string {
	alias := strings.TrimSpace(script.Alias)
	if !validate.IsAliasSafe(alias) {
		alias = validate.Slugify(script.Title)
	}
	if alias == "" {
		alias = fmt.Sprintf("script-%d", script.ID)
	}
	var b strings.Builder
	b.WriteString(alias)
	b.WriteString("/")
	b.WriteString(string(kind))
	b.WriteString("/")
	if act > 0 {
		fmt.Fprintf(&b, "act-%d-", act)
	}
	if scene > 0 {
		fmt.Fprintf(&b, "scene-%d-", scene)
	}
	b.WriteString(uuid.NewString())
	b.WriteString(extensionFor(contentType))
	return b.String()
}

var preferredExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
}

func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := preferredExt[mt]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
		return exts[0]
	}
	return ""
}
