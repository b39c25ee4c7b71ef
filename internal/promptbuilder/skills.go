package promptbuilder

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFilename is the expected filename for a skill definition.
const SkillFilename = "SKILL.md"

// skillFrontmatter is the subset of SKILL.md's YAML frontmatter the prompt
// snapshot needs.
type skillFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Skill is one entry in the prompt's skills snapshot.
type Skill struct {
	Name        string
	Description string
	RelPath     string // location relative to the skills root, for display
}

// DiscoverSkills walks root looking for SKILL.md files one directory
// deep (root/<skill-name>/SKILL.md).
func DiscoverSkills(root string) ([]Skill, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("promptbuilder: read skills dir: %w", err)
	}

	var skills []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name(), SkillFilename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fm, _, err := splitFrontmatter(data)
		if err != nil {
			continue
		}
		var meta skillFrontmatter
		if err := yaml.Unmarshal(fm, &meta); err != nil || meta.Name == "" {
			continue
		}
		skills = append(skills, Skill{
			Name:        meta.Name,
			Description: meta.Description,
			RelPath:     filepath.Join(e.Name(), SkillFilename),
		})
	}

	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

// splitFrontmatter separates a "---\n...\n---\n" YAML block from the
// rest of the file.
func splitFrontmatter(data []byte) (frontmatter []byte, body []byte, err error) {
	const delim = "---"
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != delim {
		return nil, data, fmt.Errorf("promptbuilder: missing frontmatter delimiter")
	}
	var fm bytes.Buffer
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == delim {
			closed = true
			break
		}
		fm.WriteString(line)
		fm.WriteByte('\n')
	}
	if !closed {
		return nil, nil, fmt.Errorf("promptbuilder: unterminated frontmatter")
	}
	rest := data[bytes.Index(data, []byte(delim))+len(delim):]
	if idx := bytes.Index(rest, []byte(delim)); idx >= 0 {
		rest = rest[idx+len(delim):]
	}
	return fm.Bytes(), rest, scanner.Err()
}

// RenderSkillsSnapshot renders skills as the XML listing the system prompt
// embeds: one <skill> element per entry with name/description/location.
func RenderSkillsSnapshot(skills []Skill) string {
	if len(skills) == 0 {
		return "<skills></skills>"
	}
	var b strings.Builder
	b.WriteString("<skills>\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "  <skill>\n    <name>%s</name>\n    <description>%s</description>\n    <location>%s</location>\n  </skill>\n",
			xmlEscape(s.Name), xmlEscape(s.Description), xmlEscape(s.RelPath))
	}
	b.WriteString("</skills>")
	return b.String()
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return replacer.Replace(s)
}
