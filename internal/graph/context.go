package graph

import "sort"

// BuildContext carries naming and tagging state through the composition stages.
// It is a value: With returns a new context and never mutates the receiver.
type BuildContext struct {
	stack string
	tags  map[string]string
}

// NewBuildContext returns a context for the named stack.
func NewBuildContext(stack string) BuildContext {
	return BuildContext{stack: stack}
}

// Stack returns the stack name.
func (c BuildContext) Stack() string {
	return c.stack
}

// With returns a copy of the context carrying an extra tag.
func (c BuildContext) With(key, value string) BuildContext {
	tags := make(map[string]string, len(c.tags)+1)
	for k, v := range c.tags {
		tags[k] = v
	}
	tags[key] = value
	return BuildContext{stack: c.stack, tags: tags}
}

// Tag returns the value of a context tag.
func (c BuildContext) Tag(key string) string {
	return c.tags[key]
}

// Tags returns the context tags plus a Name tag for the resource, sorted by key.
func (c BuildContext) Tags(id ID) []Tag {
	tags := []Tag{{Key: "Name", Value: c.stack + "/" + string(id)}}
	for k, v := range c.tags {
		if k == "Name" {
			continue
		}
		tags = append(tags, Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}
