package recall

import (
	"encoding/json"
	"fmt"
	"strings"
)

// factExtractionPrompt is the system prompt for distilling a user
// utterance into atomic facts.
const factExtractionPrompt = `You are a memory extraction system. Given a single user utterance, extract discrete factual statements ABOUT THE USER.

Extract facts like:
- Personal info (name, job, location, timezone)
- Preferences (likes, dislikes, tools, languages)
- Habits, routines, and plans
- Current projects or goals
- Relationships and people they mention

Rules:
- Each fact must be a single, concise declarative statement
- Only extract facts clearly stated or strongly implied by the utterance
- Do NOT extract general knowledge or questions
- If the utterance contains no user facts, return an empty list

Return ONLY a JSON object of this exact shape, no extra text:
{"facts": ["User likes pineapple on pizza", "User lives in Berlin"]}

Return {"facts": []} if no facts are found.`

// proceduralSummaryPrompt is the system prompt for condensing a
// dialogue window into one procedural memory.
const proceduralSummaryPrompt = `You are a dialogue summarization system. Given a window of a conversation between a user and an assistant, write one compact summary of what happened: what the user wanted, what was decided, and any steps taken.

Rules:
- Write in third person, past tense
- Keep concrete details (names, numbers, file paths, decisions)
- Omit pleasantries and filler
- The summary must stand alone without the transcript`

// citationSystemPrompt is the conversational system prompt used by the
// RAG pipeline.
const citationSystemPrompt = `You are an assistant that answers using the provided context.
Cite supporting facts with bracketed numbers, e.g. "[2]".
If the answer cannot be derived from the context, say you don't have enough information.`

// buildReconcilePrompt builds the single-message reconciliation prompt:
// the current memory snapshot plus the freshly extracted facts, with
// instructions to emit ADD/UPDATE/DELETE/NONE decisions.
func buildReconcilePrompt(existing []MemoryRecord, facts []string) string {
	type oldMem struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	old := make([]oldMem, 0, len(existing))
	for _, m := range existing {
		old = append(old, oldMem{ID: m.ID, Text: m.Text})
	}
	oldJSON, _ := json.Marshal(old)
	factsJSON, _ := json.Marshal(facts)

	var b strings.Builder
	b.WriteString(`You are a memory manager. Compare newly retrieved facts with existing memory and decide, for every fact, whether to ADD it as a new memory, UPDATE an existing memory, DELETE a contradicted memory, or do NONE.

Rules:
- ADD: the fact is new information. Use a fresh id of your choosing; it will be replaced.
- UPDATE: the fact refines or corrects an existing memory. Use that memory's id and include the old text as "old_memory".
- DELETE: the fact contradicts an existing memory that must be removed. Use that memory's id.
- NONE: the fact is already present. Use the matching memory's id.
- Never invent ids that are not in the existing memory list, except for ADD.

Return ONLY a JSON object of this exact shape, no extra text:
{"memory": [{"id": "...", "text": "...", "event": "ADD|UPDATE|DELETE|NONE", "old_memory": "..."}]}

`)
	fmt.Fprintf(&b, "Existing memory:\n%s\n\nNew facts:\n%s\n", oldJSON, factsJSON)
	return b.String()
}

// stripCodeFences removes a surrounding markdown code fence, if any.
// Generators asked for json_object sometimes wrap the object anyway.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
