package rag

import "strings"

// Default prompt templates. All templates are overridable from configuration;
// placeholders use {name} syntax and are filled by renderPrompt.

const defaultGuardrailsPrompt = `Is this question about Wroclaw University of Science and Technology (or a university at all) or about another topic?
The knowledge base models these entity types: {nodes}
and these relationship types: {relations}

Examples of in-scope questions: lecturers of a course, departments and their buildings, scholarships, deadlines, student organizations.
Examples of out-of-scope questions: weather, cooking, world news, sports scores.

Answer ONLY: "generate_cypher" or "end"

Question: {question}
Answer:`

const defaultCypherSearchPrompt = `Generate ONLY a valid Cypher query. No explanations.

Schema: {schema}
Question: {question}

Cypher:`

const defaultCypherInsertPrompt = `Generate Neo4j Cypher statements based EXCLUSIVELY on the provided context.
Use ONLY the allowed node types and relation types.
DO NOT include any additional text or explanations.

CONTEXT: {context}

ALLOWED NODE LABELS: {nodes}
ALLOWED RELATIONSHIP TYPES: {relations}

STRICT RULES:
1. OUTPUT MUST:
   - Contain ONLY executable Cypher statements
   - Begin with "MERGE"
   - Separate multiple statements with the PIPE character (|)
   - Use UNIQUE variable names (node1, node2, etc. - never reused)

2. FOR NODES:
   - MERGE each node with a unique variable name
   - Include 'title' and 'context' properties
   - Replace Polish characters (a, c, e, l, n, o, s, z only - ASCII output)
   - Escape single quotes in text with a backslash (\')

3. FOR RELATIONSHIPS:
   - MERGE between existing node variables
   - Use ONLY allowed relationship types
   - Direction matters (A to B is not B to A)

EXAMPLE OUTPUT:
MERGE (node1:Person {title: 'John Smith', context: 'Professor at UW'})|MERGE (node2:Department {title: 'Computer Science', context: 'CS department'})|MERGE (node1)-[:works_in]->(node2)

OUTPUT MUST BE EXACTLY IN THIS FORMAT:
MERGE (...) [|MERGE (...)]* [|MERGE (...)-[:...]->(...)]*
NO OTHER TEXT OR CHARACTERS ALLOWED!`

// renderPrompt fills {name} placeholders in a template. Unknown placeholders
// are left as-is so a template typo surfaces in the prompt rather than
// panicking at call time.
func renderPrompt(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// schemaPromptText renders a schema for embedding into prompts.
func schemaPromptText(schema Schema) string {
	var b strings.Builder
	b.WriteString("Node labels: ")
	b.WriteString(strings.Join(schema.Entities, ", "))
	b.WriteString("\nRelationship types: ")
	b.WriteString(strings.Join(schema.Relationships, ", "))
	return b.String()
}
