package config

// SampleYAML is the starter file written by `netmedic config init`.
const SampleYAML = `# netmedic configuration. ${VAR} expands from the environment; a .env
# file next to this one is loaded first.

logging:
  level: info    # debug, info, warn, error
  format: json   # json or text
  output: stderr # stderr, or file for a date-named file under the state dir

store:
  # path: /custom/location/netmedic.db
  in_memory: false

llm:
  # backend: openai # openai, anthropic, xai, google, ollama
  openai:
    api_key: ${OPENAI_API_KEY}
  anthropic:
    api_key: ${ANTHROPIC_API_KEY}
  xai:
    api_key: ${XAI_API_KEY}
  google:
    api_key: ${GOOGLE_API_KEY}

sidecar:
  model: llama3.2
  auto_start: false
  # base_url: http://127.0.0.1:11434
  # resources_dir: /opt/netmedic/resources

prompts:
  # dir: /path/to/prompt/overrides
  watch: false

session:
  idle_timeout: 30m
  sweep_schedule: "@every 5m"
  lock_timeout: 30s
`
