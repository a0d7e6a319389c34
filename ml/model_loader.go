package ml

// LoadModel reads a model saved with Model.Save.
func LoadModel(path string) (*Model, error) {
	model := &Model{}
	if err := model.Load(path); err != nil {
		return nil, err
	}
	return model, nil
}
