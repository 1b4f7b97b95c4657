package domain

import (
	"strings"
)

// Script is a screenplay document. Acts, scenes, dialogue and characters are
// embedded and owned by the script; their slice order is narrative order.
type Script struct {
	ID         int64       `json:"id,omitempty"`
	Title      string      `json:"title"`
	Alias      string      `json:"alias"`
	Logline    string      `json:"logline"`
	Genre      []string    `json:"genre"`
	Tone       string      `json:"tone"`
	Themes     []string    `json:"themes"`
	Notes      string      `json:"notes"`
	Setting    Setting     `json:"setting"`
	Characters []Character `json:"characters"`
	Acts       []Act       `json:"acts"`
	Timestamps
}

type Setting struct {
	Time     string `json:"time"`
	Location string `json:"location"`
}

// Character is referenced from dialogue by RoleID only.
type Character struct {
	Name        string `json:"name"`
	RoleID      string `json:"roleId"`
	Description string `json:"description"`
}

type Act struct {
	ActNumber int     `json:"act_number"`
	Summary   string  `json:"summary"`
	Scenes    []Scene `json:"scenes"`
}

type Scene struct {
	SceneNumber int        `json:"scene_number"`
	Time        string     `json:"time"`
	Location    string     `json:"location"`
	Action      string     `json:"action"`
	VisualStyle string     `json:"visual_style"`
	AudioStyle  string     `json:"audio_style"`
	Dialogues   []Dialogue `json:"dialogues"`
}

type Dialogue struct {
	RoleID string `json:"roleId"`
	Line   string `json:"line"`
}

func (s *Script) DocumentID() int64      { return s.ID }
func (s *Script) SetDocumentID(id int64) { s.ID = id }

func (s *Script) IndexKeys() IndexKeys {
	return IndexKeys{Title: s.Title, Category: s.Alias}
}

// Validate enforces the structural rules of a script. Dialogue roleIds that
// match no character are not rejected here; see validate.CheckScript.
func (s *Script) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return Invalid("title", "is required")
	}
	roles := make(map[string]struct{}, len(s.Characters))
	for i, c := range s.Characters {
		roleID := strings.TrimSpace(c.RoleID)
		if roleID == "" {
			return Invalid("characters", "character %d has no roleId", i)
		}
		if _, dup := roles[roleID]; dup {
			return Invalid("characters", "duplicate roleId %q", roleID)
		}
		roles[roleID] = struct{}{}
	}
	acts := make(map[int]struct{}, len(s.Acts))
	for _, act := range s.Acts {
		if _, dup := acts[act.ActNumber]; dup {
			return Invalid("acts", "duplicate act_number %d", act.ActNumber)
		}
		acts[act.ActNumber] = struct{}{}
		scenes := make(map[int]struct{}, len(act.Scenes))
		for _, scene := range act.Scenes {
			if _, dup := scenes[scene.SceneNumber]; dup {
				return Invalid("scenes", "duplicate scene_number %d in act %d", scene.SceneNumber, act.ActNumber)
			}
			scenes[scene.SceneNumber] = struct{}{}
		}
	}
	return nil
}

// Character returns the character with roleID.
func (s *Script) Character(roleID string) (Character, bool) {
	for _, c := range s.Characters {
		if c.RoleID == roleID {
			return c, true
		}
	}
	return Character{}, false
}

// Scene returns the scene addressed by act and scene number.
func (s *Script) Scene(actNumber, sceneNumber int) (Scene, bool) {
	for _, act := range s.Acts {
		if act.ActNumber != actNumber {
			continue
		}
		for _, scene := range act.Scenes {
			if scene.SceneNumber == sceneNumber {
				return scene, true
			}
		}
	}
	return Scene{}, false
}
