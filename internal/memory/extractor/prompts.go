package extractor

const extractEntitiesPrompt = `You are an advanced algorithm designed to extract entities from conversational text to construct knowledge graphs. Follow these key principles:

1. Extract only entities explicitly mentioned in the text.
2. Use the display form of each name as it appears in the text.
3. Assign each entity exactly one type from this list: Person, Organization, Technology, Location, Event, Concept.
4. Do not invent entities that are merely implied.

Respond with a JSON object of the form:
{"extracted_entities": [{"name": "...", "entity_type": "..."}]}
`

const missedEntitiesPrompt = `You previously extracted entities from a piece of conversational text. Review the text again and determine whether any entities were missed.

Already extracted: %s

Respond with a JSON object of the form:
{"missed_entities": ["...", "..."]}

Return an empty array if nothing was missed.
`

const extractRelationshipsPrompt = `You are an advanced algorithm designed to extract relationships between known entities from conversational text. Follow these key principles:

1. Establish relationships only among the entities listed below, referenced by their 1-based id.
2. Use consistent, general, and timeless relationship types. Example: prefer "works_at" over "started_working_at".
3. State each relationship as a short factual sentence in the "fact" field.
4. When the text states when a fact became true or stopped being true, supply "valid_at" / "invalid_at" as ISO-8601 timestamps; otherwise omit them.

Entities:
%s

Respond with a JSON object of the form:
{"edges": [{"source_entity_id": 1, "target_entity_id": 2, "relation_type": "...", "fact": "...", "valid_at": "...", "invalid_at": "..."}]}
`

const summarizeEntityPrompt = `Write a single concise sentence (at most 40 words) summarizing what the conversational text below says about the entity "%s". Mention only information stated in the text. Respond with the sentence only, no JSON.

Text:
%s
`
