package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"scriptstudio/pkg/domain"
)

var (
	aliasPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	nonAlnumRun  = regexp.MustCompile(`[^a-z0-9]+`)
)

// Slugify turns a title into a lowercase hyphenated alias. Diacritics are
// folded to their base letters; Vietnamese đ becomes d.
func Slugify(title string) string {
	decomposed := norm.NFD.String(strings.ToLower(title))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r == 'đ':
			b.WriteRune('d')
		default:
			b.WriteRune(r)
		}
	}
	slug := nonAlnumRun.ReplaceAllString(b.String(), "-")
	return strings.Trim(slug, "-")
}

// IsAliasSafe reports whether alias is a lowercase kebab-case token.
func IsAliasSafe(alias string) bool {
	return aliasPattern.MatchString(alias)
}

// CheckScript returns advisory warnings for a script that passed structural
// validation: dialogue referencing unknown roleIds, unsafe alias and stage
// directions in lines.
func CheckScript(s domain.Script) []string {
	warnings := []string{}
	if s.Alias != "" && !IsAliasSafe(s.Alias) {
		warnings = append(warnings, fmt.Sprintf("alias %q is not kebab-case, suggested %q", s.Alias, Slugify(s.Alias)))
	}
	roles := make(map[string]bool, len(s.Characters))
	for _, c := range s.Characters {
		roles[c.RoleID] = true
	}
	for _, act := range s.Acts {
		for _, scene := range act.Scenes {
			for i, d := range scene.Dialogues {
				where := fmt.Sprintf("act %d scene %d line %d", act.ActNumber, scene.SceneNumber, i+1)
				if !roles[d.RoleID] {
					warnings = append(warnings, fmt.Sprintf("%s: roleId %q has no character", where, d.RoleID))
				}
				if check := ValidateDialogueLine(d.Line); !check.IsValid {
					warnings = append(warnings, fmt.Sprintf("%s: %s", where, strings.Join(check.Warnings, "; ")))
				}
			}
		}
	}
	return warnings
}

// CleanScriptDialogue strips stage directions from every dialogue line and
// returns how many lines changed.
func CleanScriptDialogue(s *domain.Script) int {
	changed := 0
	for a := range s.Acts {
		for sc := range s.Acts[a].Scenes {
			dialogues := s.Acts[a].Scenes[sc].Dialogues
			for i := range dialogues {
				cleaned := StripStageDirections(dialogues[i].Line)
				if cleaned != dialogues[i].Line {
					dialogues[i].Line = cleaned
					changed++
				}
			}
		}
	}
	return changed
}
