package workspace

// GetID makes Workspace a registry.Entry
func (w *Workspace) GetID() string { return w.ID }
