package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		execRequiresGuardPolicy(),
		fileWorldWritablePolicy(),
		containerPinnedImagePolicy(),
		secretInContentPolicy(),
	}
}

// execRequiresGuardPolicy rejects imperative steps that would rerun on
// every apply.
func execRequiresGuardPolicy() Policy {
	return Policy{
		Name:        "exec-requires-guard",
		Description: "Exec resources must declare creates, unless or only_if",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package pabawi.policies.exec_guard

import rego.v1

deny contains violation if {
	some r in input.catalog.resources
	r.kind == "exec"
	guard := object.get(r.payload, "guard", {})
	not guard.creates
	not guard.unless
	not guard.only_if
	violation := {
		"message": sprintf("exec %s has no creates, unless or only_if guard and would run on every apply", [r.payload.name]),
		"resource": r.id,
	}
}
`,
	}
}

// fileWorldWritablePolicy rejects files and directories anyone can write.
func fileWorldWritablePolicy() Policy {
	return Policy{
		Name:        "file-world-writable",
		Description: "Files and directories must not be world-writable",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package pabawi.policies.world_writable

import rego.v1

deny contains violation if {
	some r in input.catalog.resources
	r.kind in {"file", "directory"}
	mode := object.get(r.payload, "mode", 0)
	bits.and(mode, 2) != 0
	violation := {
		"message": sprintf("%s %s is world-writable (mode %o)", [r.kind, r.payload.path, mode]),
		"resource": r.id,
	}
}
`,
	}
}

// containerPinnedImagePolicy warns about container images that may change
// underneath a converged host.
func containerPinnedImagePolicy() Policy {
	return Policy{
		Name:        "container-pinned-image",
		Description: "Container images should carry an explicit tag other than latest",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package pabawi.policies.pinned_image

import rego.v1

deny contains violation if {
	some r in input.catalog.resources
	r.kind == "container"
	not pinned(r.payload.image)
	violation := {
		"message": sprintf("container %s uses unpinned image %s", [r.payload.name, r.payload.image]),
		"resource": r.id,
	}
}

pinned(image) if contains(image, "@sha256:")

pinned(image) if {
	parts := split(image, "/")
	last := parts[count(parts) - 1]
	contains(last, ":")
	not endswith(last, ":latest")
}
`,
	}
}

// secretInContentPolicy warns when a JWT secret is written to a file other
// users can read.
func secretInContentPolicy() Policy {
	return Policy{
		Name:        "secret-in-content",
		Description: "Files embedding a JWT secret should not be world-readable",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package pabawi.policies.secret_content

import rego.v1

deny contains violation if {
	some r in input.catalog.resources
	r.kind == "file"
	regex.match("(?i)jwt_secret\\s*[=:]\\s*\\S", object.get(r.payload, "content", ""))
	world_readable(object.get(r.payload, "mode", 0))
	violation := {
		"message": sprintf("file %s embeds a JWT secret and is world-readable", [r.payload.path]),
		"resource": r.id,
	}
}

# Mode 0 means the default 0644.
world_readable(mode) if mode == 0

world_readable(mode) if bits.and(mode, 4) != 0
`,
	}
}
