package tools

// Tool argument schemas, as exposed to the LLM and enforced by
// Registry.Validate. Kept as raw JSON literals rather than a schema-builder
// DSL to match the shape the LLM actually receives.

const newLayerFromPostGISSchema = `{
	"type": "object",
	"required": ["connection_id", "query", "layer_name"],
	"properties": {
		"connection_id": {"type": "string", "description": "PG connection id to run the query against"},
		"query": {"type": "string", "description": "SELECT query projecting id and geom columns"},
		"layer_name": {"type": "string"}
	},
	"additionalProperties": false
}`

const addLayerToMapSchema = `{
	"type": "object",
	"required": ["layer_id"],
	"properties": {
		"layer_id": {"type": "string", "description": "One of the caller's unattached layer ids"}
	},
	"additionalProperties": false
}`

const setLayerStyleSchema = `{
	"type": "object",
	"required": ["layer_id", "render_layers"],
	"properties": {
		"layer_id": {"type": "string"},
		"render_layers": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "type", "source"],
				"properties": {
					"id": {"type": "string"},
					"type": {"type": "string"},
					"source": {"type": "string"},
					"source-layer": {"type": "string"},
					"paint": {"type": "object"},
					"layout": {"type": "object"}
				}
			}
		}
	},
	"additionalProperties": false
}`

const queryDuckDBSQLSchema = `{
	"type": "object",
	"required": ["layer_id", "sql_query"],
	"properties": {
		"layer_id": {"type": "string"},
		"sql_query": {"type": "string"},
		"row_limit": {"type": "integer", "minimum": 1}
	},
	"additionalProperties": false
}`

const queryPostGISDatabaseSchema = `{
	"type": "object",
	"required": ["connection_id", "query"],
	"properties": {
		"connection_id": {"type": "string"},
		"query": {"type": "string", "description": "Must contain LIMIT n with n <= 1000"}
	},
	"additionalProperties": false
}`

const zoomToBoundsSchema = `{
	"type": "object",
	"required": ["west", "south", "east", "north"],
	"properties": {
		"west": {"type": "number"},
		"south": {"type": "number"},
		"east": {"type": "number"},
		"north": {"type": "number"}
	},
	"additionalProperties": false
}`

const downloadFromOpenStreetMapSchema = `{
	"type": "object",
	"required": ["tags", "bbox"],
	"properties": {
		"tags": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"bbox": {
			"type": "array",
			"items": {"type": "number"},
			"minItems": 4,
			"maxItems": 4
		},
		"layer_name": {"type": "string"}
	},
	"additionalProperties": false
}`

// qgisAlgorithmSchema is used for every registered QGIS processing tool:
// its parameters are worker-defined, so validation here is limited to
// "an object was supplied" and per-tool dispatch does the rest.
const qgisAlgorithmSchema = `{
	"type": "object"
}`
