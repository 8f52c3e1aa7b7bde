package persona

import "github.com/sabia-ai/sabia/pkg/live"

// Mode selects which backend surface a tool list is being prepared for.
// The live streaming API and the batch content API accept different
// subsets of the tool configuration.
type Mode int

const (
	// ModeLive is the bidirectional streaming session.
	ModeLive Mode = iota
	// ModeBatch is the unary generate-content API.
	ModeBatch
)

// Per-mode inclusion rules. Enabled is client-only and never reaches the
// wire in any mode.
//
//	field         ModeLive   ModeBatch
//	scheduling    kept       dropped
//	googleSearch  dropped    kept
var modeRules = map[Mode]struct {
	scheduling   bool
	googleSearch bool
}{
	ModeLive:  {scheduling: true, googleSearch: false},
	ModeBatch: {scheduling: false, googleSearch: true},
}

// SanitizeTools converts persona tool configuration into wire tool sets
// for the given mode. Disabled tools are dropped. The result groups all
// function declarations into a single set, with the search tool (when the
// mode supports it) as its own set. It returns nil when nothing survives.
func SanitizeTools(tools []ToolConfig, mode Mode) []live.ToolSet {
	rules := modeRules[mode]

	var decls []live.FunctionDeclaration
	search := false
	for _, t := range tools {
		if !t.Enabled {
			continue
		}
		if t.GoogleSearch {
			search = search || rules.googleSearch
			continue
		}
		if t.Name == "" {
			continue
		}
		d := live.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
		if rules.scheduling {
			d.Scheduling = t.Scheduling
		}
		decls = append(decls, d)
	}

	var sets []live.ToolSet
	if len(decls) > 0 {
		sets = append(sets, live.ToolSet{FunctionDeclarations: decls})
	}
	if search {
		sets = append(sets, live.ToolSet{GoogleSearch: map[string]any{}})
	}
	return sets
}
