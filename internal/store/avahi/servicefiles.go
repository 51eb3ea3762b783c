package avahi

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/anklab/avahi-advertiser/internal/domain"
)

// serviceGroupTemplate matches the layout of the service files avahi
// ships as examples. Values are XML-escaped by the funcmap.
const serviceGroupTemplate = `<?xml version="1.0" standalone='no'?>
<!DOCTYPE service-group SYSTEM "avahi-service.dtd">
<service-group>
  <name replace-wildcards="yes">{{escape .Name}}</name>
  <service>
    <type>{{escape .Type}}</type>
    <port>{{.Port}}</port>
{{- range .TXT}}
    <txt-record>{{escape .Key}}={{escape .Value}}</txt-record>
{{- end}}
  </service>
</service-group>
`

var serviceTmpl = template.Must(template.New("service-group").Funcs(template.FuncMap{
	"escape": escapeXML,
}).Parse(serviceGroupTemplate))

func escapeXML(s string) string {
	var b strings.Builder
	// EscapeText cannot fail on a strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// renderServiceGroup produces the XML bytes for one service record.
func renderServiceGroup(rec *domain.ServiceRecordEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := serviceTmpl.Execute(&buf, rec); err != nil {
		return nil, fmt.Errorf("failed to render service group for %q: %w", rec.Name, err)
	}
	return buf.Bytes(), nil
}

// WriteService writes the XML file advertising rec, atomically, and
// only when its content differs from what is already on disk.
func (s *Store) WriteService(rec *domain.ServiceRecordEntry) (bool, error) {
	data, err := renderServiceGroup(rec)
	if err != nil {
		return false, err
	}

	path := filepath.Join(s.servicesDir, ServiceFileName(rec.Name))
	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read service file %s: %w", path, err)
	}

	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write service file %s: %w", path, err)
	}
	s.markChanged("services")
	return true, nil
}

// RemoveService deletes the file advertising the given name. A file
// that is already gone is not an error.
func (s *Store) RemoveService(name string) (bool, error) {
	path := filepath.Join(s.servicesDir, ServiceFileName(name))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove service file %s: %w", path, err)
	}
	s.markChanged("services")
	return true, nil
}

// RemoveServiceFile deletes a managed file by its directory entry name.
// The full-sync sweep uses it for files no live Service owns anymore.
func (s *Store) RemoveServiceFile(filename string) error {
	if !IsManagedServiceFile(filename) {
		return fmt.Errorf("refusing to remove unmanaged file %q", filename)
	}
	path := filepath.Join(s.servicesDir, filename)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove service file %s: %w", path, err)
	}
	s.markChanged("services")
	return nil
}

// ScanServiceFiles lists the managed files currently in the services
// directory, in lexical order.
func (s *Store) ScanServiceFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(s.servicesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read services directory %s: %w", s.servicesDir, err)
	}

	var files []string
	for _, de := range dirEntries {
		if de.IsDir() || !IsManagedServiceFile(de.Name()) {
			continue
		}
		files = append(files, de.Name())
	}
	return files, nil
}
