package scaffold

const exampleConfig = `name: my-template

# Template directory, relative to the project root.
template: template

# Minutes for the whole check pipeline (0 = no limit).
timeout: 20

vars:
  VENV: .venv

contexts:
  - name: python-demo
    values:
      project_name: robust-python-demo
      add_rust_extension: false
  - name: rust-demo
    values:
      project_name: robust-rust-demo
      add_rust_extension: true

steps:
  - name: format
    description: Normalise whitespace the way a formatter would
    run: |
      find . -name '*.py' -not -path './$VENV/*' -exec sed -i -e 's/[[:space:]]*$//' {} +
    timeout: 5

# Instance paths never copied back into the template.
sync-exempt:
  - uv.lock
  - pyproject.toml
`

const exampleManifest = `name: robust-python
root: "{{project_name}}"

variables:
  - key: project_name
    description: Project name
    default: robust-python-demo
    pattern: '^[a-z][a-z0-9-]*$'
  - key: package_name
    derive: snake(project_name)
  - key: author
    description: Author
    default: Jane Doe
  - key: add_rust_extension
    type: bool
    description: Add a Rust extension?
    default: false

conditions:
  - path: rust
    when: add_rust_extension

sync-exempt:
  - uv.lock
`

var exampleFiles = map[string]string{
	"{{project_name}}/README.md": `# {{project_name}}

Maintained by {{author}}.
`,
	"{{project_name}}/pyproject.toml": `[project]
name = "{{project_name}}"
authors = [{ name = "{{author}}" }]
`,
	"{{project_name}}/src/{{package_name}}/__init__.py": `"""{{project_name}}."""

__all__ = []
`,
	"{{project_name}}/noxfile.py": `import nox

{% if add_rust_extension %}
RUST = True
{% else %}
RUST = False
{% endif %}
PACKAGE = "{{package_name}}"
`,
	"{{project_name}}/rust/Cargo.toml": `[package]
name = "{{package_name}}"
`,
	"{{project_name}}/rust/src/lib.rs": `// {{project_name}} native extension
`,
}
