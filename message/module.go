package message

import (
	"fmt"

	"github.com/Meander-Cloud/go-remote/wire"
)

// ModuleIdentifier names a deployable unit; AppName and DistinctName may be empty.
type ModuleIdentifier struct {
	AppName      string `json:"app_name"`
	ModuleName   string `json:"module_name"`
	DistinctName string `json:"distinct_name"`
}

func (m ModuleIdentifier) String() string {
	return fmt.Sprintf("%s/%s/%s", m.AppName, m.ModuleName, m.DistinctName)
}

// Locator addresses one view of one component.
type Locator struct {
	AppName      string `json:"app_name"`
	ModuleName   string `json:"module_name"`
	DistinctName string `json:"distinct_name"`
	BeanName     string `json:"bean_name"`
	ViewName     string `json:"view_name"`
}

func (l Locator) Module() ModuleIdentifier {
	return ModuleIdentifier{
		AppName:      l.AppName,
		ModuleName:   l.ModuleName,
		DistinctName: l.DistinctName,
	}
}

func (l Locator) String() string {
	return fmt.Sprintf(
		"app=%s, module=%s, distinct=%s, bean=%s, view=%s",
		l.AppName,
		l.ModuleName,
		l.DistinctName,
		l.BeanName,
		l.ViewName,
	)
}

func ReadLocator(r *wire.Reader) (Locator, error) {
	var l Locator
	var err error
	for _, s := range []*string{&l.AppName, &l.ModuleName, &l.DistinctName, &l.BeanName, &l.ViewName} {
		*s, err = r.ReadUTF()
		if err != nil {
			return Locator{}, err
		}
	}
	return l, nil
}

func WriteLocator(w *wire.Writer, l Locator) error {
	for _, s := range []string{l.AppName, l.ModuleName, l.DistinctName, l.BeanName, l.ViewName} {
		err := w.WriteUTF(s)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteModules writes a packed count and each module triple.
func WriteModules(w *wire.Writer, modules []ModuleIdentifier) error {
	err := w.WritePackedInt(len(modules))
	if err != nil {
		return err
	}
	for _, m := range modules {
		err = w.WriteUTF(m.AppName)
		if err == nil {
			err = w.WriteUTF(m.ModuleName)
		}
		if err == nil {
			err = w.WriteUTF(m.DistinctName)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func ReadModules(r *wire.Reader) ([]ModuleIdentifier, error) {
	n, err := r.ReadPackedInt()
	if err != nil {
		return nil, err
	}
	modules := make([]ModuleIdentifier, 0, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		var m ModuleIdentifier
		m.AppName, err = r.ReadUTF()
		if err == nil {
			m.ModuleName, err = r.ReadUTF()
		}
		if err == nil {
			m.DistinctName, err = r.ReadUTF()
		}
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}
