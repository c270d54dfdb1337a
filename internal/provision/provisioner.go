package provision

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/castla94/gestor-chatbot/internal/model"
	"go.uber.org/zap"
)

// Cloner materializes a full copy of src at dst
type Cloner interface {
	Clone(ctx context.Context, src, dst string) error
}

// RsyncCloner clones with `rsync -a src/ dst/`
type RsyncCloner struct {
	Bin string
}

// Clone runs rsync in archive mode
func (r RsyncCloner) Clone(ctx context.Context, src, dst string) error {
	bin := r.Bin
	if bin == "" {
		bin = "rsync"
	}
	if _, err := os.Stat(src); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin, "-a", strings.TrimSuffix(src, "/")+"/", strings.TrimSuffix(dst, "/")+"/")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", bin, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CopyCloner clones with an in-process recursive copy preserving file modes
type CopyCloner struct{}

// Clone walks src and recreates every directory, file and symlink under dst
func (CopyCloner) Clone(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// NewCloner returns the cloner for a configured method name
func NewCloner(method string) Cloner {
	if method == "copy" {
		return CopyCloner{}
	}
	return RsyncCloner{}
}

// Provisioner creates and destroys tenant directories under a clients root
type Provisioner struct {
	TemplatePath string
	ClientsRoot  string
	Cloner       Cloner
	Log          *zap.Logger
}

// NewProvisioner creates a provisioner
func NewProvisioner(templatePath, clientsRoot string, cloner Cloner, log *zap.Logger) *Provisioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{
		TemplatePath: templatePath,
		ClientsRoot:  clientsRoot,
		Cloner:       cloner,
		Log:          log,
	}
}

// Exists reports whether the tenant directory is present
func (p *Provisioner) Exists(tenantPath string) bool {
	_, err := os.Stat(tenantPath)
	return err == nil
}

// Provision clones the template into the directory of tenantID.
// It fails with model.ErrAlreadyExists, without touching anything, when the
// directory is already present.
func (p *Provisioner) Provision(ctx context.Context, tenantID string) (string, error) {
	tenantPath := model.TenantPath(p.ClientsRoot, tenantID)
	if p.Exists(tenantPath) {
		p.Log.Warn("Tenant directory already exists", zap.String("tenant_path", tenantPath))
		return tenantPath, fmt.Errorf("%w: %s", model.ErrAlreadyExists, tenantPath)
	}

	if err := os.MkdirAll(p.ClientsRoot, 0755); err != nil {
		return tenantPath, fmt.Errorf("%w: %v", model.ErrProvision, err)
	}

	p.Log.Info("Cloning template to tenant directory",
		zap.String("from", p.TemplatePath),
		zap.String("to", tenantPath))
	if err := p.Cloner.Clone(ctx, p.TemplatePath, tenantPath); err != nil {
		// the directory did not exist before this call, so a partial copy is ours to remove
		if rmErr := os.RemoveAll(tenantPath); rmErr != nil {
			p.Log.Error("Failed to remove partial tenant directory",
				zap.String("tenant_path", tenantPath),
				zap.Error(rmErr))
		}
		return tenantPath, fmt.Errorf("%w: %v", model.ErrProvision, err)
	}
	return tenantPath, nil
}

// Deprovision removes the tenant directory tree. A missing directory is not an error.
func (p *Provisioner) Deprovision(tenantPath string) error {
	p.Log.Info("Removing tenant directory", zap.String("tenant_path", tenantPath))
	return os.RemoveAll(tenantPath)
}
