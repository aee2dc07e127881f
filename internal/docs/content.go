package docs

var topics = []Topic{
	{
		Name:    "quickstart",
		Title:   "Quick Start",
		Summary: "Getting started with stencil",
		Content: topicQuickstart,
	},
	{
		Name:    "template",
		Title:   "Template Manifest",
		Summary: "stencil.yaml variables, conditions, and placeholder syntax",
		Content: topicTemplate,
	},
	{
		Name:    "config",
		Title:   "Configuration Reference",
		Summary: "Project config schema, contexts, steps, and settings",
		Content: topicConfig,
	},
	{
		Name:    "variables",
		Title:   "Pipeline Variables",
		Summary: "Built-in vars, custom vars, and environment variables",
		Content: topicVariables,
	},
	{
		Name:    "sync",
		Title:   "Reverse Sync",
		Summary: "How instance edits become template changes",
		Content: topicSync,
	},
	{
		Name:    "cache",
		Title:   "Instance Cache",
		Summary: "Cache keys, reuse, invalidation, and safe removal",
		Content: topicCache,
	},
	{
		Name:    "state",
		Title:   "State Directory",
		Summary: "Structure of .stencil/state/ and what gets saved",
		Content: topicState,
	},
}

const topicQuickstart = `Quick Start
===========

1. Initialize a project:

    cd your-project
    stencil init

   This creates .stencil/config.yaml and an example template under
   template/. To use a template you already have:

    stencil init --template path/to/template

2. Render an instance for the first context and look at it:

    stencil render

3. Run the pipeline against the instance without touching the template:

    stencil check

4. Run the full cycle. Whatever the pipeline changed in the instance is
   mapped back onto the template, with literals turned back into
   placeholders:

    stencil sync --dry-run
    stencil sync

5. Check progress and health:

    stencil status
    stencil doctor

CLI Commands
------------

  stencil init [--template DIR]         Scaffold .stencil/ (and an example template)
  stencil render [--context NAME]       Render (or reuse) a cached instance
  stencil render --all                  Render every context concurrently
  stencil render --output DIR           Render a fresh copy into DIR
  stencil check [--context NAME]        Render, then run the pipeline
  stencil sync [--context NAME]         Render, run the pipeline, sync edits back
  stencil sync --dry-run                Plan the sync and print the diff only
  stencil sync --yes                    Apply without asking
  stencil status                        Show the last cycle and cached instances
  stencil invalidate [--context NAME]   Remove one cached instance
  stencil purge                         Remove every cached instance
  stencil watch [--sync]                Re-run check (or sync) on template changes
  stencil doctor                        Diagnose template, tools, and cache
  stencil docs [topic]                  Show documentation

Context values can be given on any rendering command:

  --set key=value       Override one value (repeatable)
  --context-file FILE   YAML file of values
  --interactive         Prompt for every value not set otherwise

Precedence, lowest first: manifest defaults, config context values,
--context-file, --set, prompts.
`

const topicTemplate = `Template Manifest
=================

Every template directory holds a stencil.yaml next to the rendered root
directory.

    template/
      stencil.yaml
      {{project_name}}/
        README.md
        src/{{package_name}}/__init__.py

Top-level fields
----------------

  name                 string   Required. Template name.
  root                 string   Required. Name of the root directory; may
                                contain placeholders.
  variables            list     Declared keys (see below).
  conditions           list     Paths included only when an expression holds.
  sync-exempt          list     Instance paths never copied back.
  copy-without-render  list     Paths copied byte for byte.
  syntax               object   Placeholder delimiters (see below).

Variables
---------

  key          string   Required. [A-Za-z_][A-Za-z0-9_]*
  type         string   "string" (default), "bool", or "choice".
  description  string   Prompt text for --interactive.
  default      any      Value used when the context does not set one.
  choices      list     Allowed values (choice only).
  pattern      string   Regex every value must match.
  derive       string   Expression computed from other keys.

A key with no default, no derive, and not a choice is required.

Derivation expressions use HCL syntax with these functions: lower, upper,
title, snake, kebab, replace, regex_replace, trimspace, format, join,
split, substr, short_version.

    - key: package_name
      derive: snake(project_name)

Conditions
----------

    conditions:
      - path: rust
        when: add_rust_extension
      - path: docs
        when: docs == "mkdocs"

Paths are relative to the root directory and use shell globs (*, ?,
[...]). A pattern naming a directory covers everything below it, and a
pattern without a slash also matches base names, so "*.lock" matches
lock files at any depth. A directory that is gated off is skipped with
everything under it.

Inside files, whole-line directives gate blocks of lines:

    {% if add_rust_extension %}
    maturin = true
    {% elif docs == "sphinx" %}
    sphinx = true
    {% else %}
    plain = true
    {% endif %}

Syntax
------

  open         default "{{"
  close        default "}}"
  block-open   default "{%"
  block-close  default "%}"
  namespace    optional prefix, e.g. "cookiecutter" for {{cookiecutter.key}}
`

const topicConfig = `Configuration Reference
=======================

Projects are defined in .stencil/config.yaml.

Top-level fields
----------------

  name          string   Required. Project name.
  template      string   Template directory (default "template").
  timeout       int      Minutes for the whole pipeline. 0 means no limit.
  vars          map      Custom variables expanded at startup (declaration order).
  contexts      list     Required. Named sets of values to render with.
  steps         list     The check pipeline, run in order.
  sync-exempt   list     Instance paths never copied back, added to the
                         manifest's own list.

Contexts
--------

  name          string   Required. Unique; letters, digits, - and _.
  values        map      Values for the manifest's variables.

Commands use the first context unless --context is given. Listing several
contexts lets one template be exercised as a matrix:

    contexts:
      - name: python-demo
        values: {project_name: robust-python-demo, add_rust_extension: false}
      - name: rust-demo
        values: {project_name: robust-rust-demo, add_rust_extension: true}

Step fields
-----------

  name            string   Required. Unique step name.
  description     string   Human-readable description.
  run             string   Required. Bash command run in the instance root.
  timeout         int      Minutes. Default 10.
  allow-failure   bool     A non-zero exit does not fail the run.
  when            string   Expression over context values; false skips the step.
  requires        list     Binaries that must be on PATH.

Settings
--------

Settings come from the environment and global flags:

  STENCIL_CACHE_DIR    --cache-dir    Default: user cache dir + /stencil
  STENCIL_LOG_LEVEL    --log-level    debug, info, warn (default), error
  STENCIL_LOG_FORMAT   --log-format   text (default) or json
  STENCIL_JOBS         --jobs         Concurrent renders for --all (default 4)
`

const topicVariables = `Pipeline Variables
==================

Step commands are expanded before they run. $NAME and ${NAME} are
replaced when NAME is known; anything else is left for bash.

Built-in Variables
------------------

  $INSTANCE_ROOT    Root directory of the rendered instance (working dir)
  $TEMPLATE_DIR     Template directory
  $PROJECT_ROOT     Directory holding .stencil/
  $CONTEXT          Name of the context in use
  $CACHE_KEY        Cache key of the instance
  $STEP_INDEX       0-based index of the running step

Context values are available under their own keys, derived ones
included:

    run: pytest -q src/$package_name

Custom Variables
----------------

Declared under vars in config.yaml, expanded in order so later entries
can use earlier ones and built-ins:

    vars:
      VENV: $INSTANCE_ROOT/.venv
      PY: $VENV/bin/python

Custom vars cannot override built-ins and names must be unique.

Environment
-----------

Each step also sees:

  STENCIL_<BUILTIN>      every built-in, e.g. STENCIL_INSTANCE_ROOT
  STENCIL_<VAR>          every custom var
  STENCIL_CTX_<KEY>      every context value, key upper-cased
`

const topicSync = `Reverse Sync
============

After the pipeline runs, stencil compares the instance with the snapshot
taken before it ran. Each changed file is mapped back to the template file
it was rendered from.

What is written
---------------

- Modified files: changed lines are copied back. Inside those lines,
  every literal that a placeholder produced during the render becomes the
  placeholder again. "robust-demo" written by {{project_name}} is written
  back as {{project_name}}.
- New files: written to the template at the matching path, with path
  segments and content turned back into placeholders.
- Deleted files: removed from the template.
- Files copied without rendering are copied back as they are.

Longer literals win over shorter ones. A literal produced by two keys is
only substituted when one is derived from the other with the same value.

What is refused
---------------

A file is left untouched, and reported as unsyncable, when:

- a changed literal could belong to more than one unrelated key;
- a change touches a directive line or a line in a gated block;
- a placeholder the template had is no longer recognisable;
- a deleted file still had lines that were not rendered.

Other files still sync. Unsyncable reports are written to
.stencil/state/reports/unsyncable.txt.

Exempt paths
------------

Paths matching sync-exempt (manifest or config) are never synced. Lock
files and generated metadata belong there.

Files ignored by a .gitignore in the instance, and common tool caches
(.git, __pycache__, *.pyc, .venv, .nox, .tox, .ruff_cache, .mypy_cache,
.pytest_cache, node_modules, target), are never seen by sync at all.

New binary files and files matching copy-without-render are copied into
the template unchanged.

Stale instances
---------------

If the template changed after the instance was rendered, sync refuses
to run. Render again with stencil invalidate, then re-run.
`

const topicCache = `Instance Cache
==============

Rendered instances live under the cache directory, one slot per cache
key. The key is a hash of the template path and the effective context
values, so different contexts never share a slot.

    <cache-dir>/
      index.json
      slots/<id>/
        .stencil-instance     marker file
        table.json            substitution table
        <root name>/          the rendered instance

Reuse
-----

A slot is reused when the template has not changed since the render and
the pipeline has not edited it. Otherwise it is rendered again.

Removal
-------

stencil only deletes directories that carry its marker. A directory
without one is refused unless --force is given or the prompt is
confirmed. Read-only files (from git checkouts or package caches) are
made writable first.

stencil doctor reports slots without markers, missing slots, directories
the index does not know, and leftovers of interrupted renders.
`

const topicState = `State Directory
===============

Each project keeps the state of its last cycle under .stencil/state/
(ignored by git).

    .stencil/state/
      state.json          run ID, context, mode, phase, status
      timing.json         start and end time of each phase
      logs/
        step-1.log        output of each pipeline step
      reports/
        pipeline.json     step results
        edits.diff        what the pipeline changed in the instance
        sync.diff         what sync wrote (or would write) to the template
        unsyncable.txt    changes that could not be mapped back

stencil status prints the timing and lists the reports. When a cycle
fails in the pipeline, stencil doctor shows the tail of the failing
step's log.
`
