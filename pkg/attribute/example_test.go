package attribute_test

import (
	"fmt"

	"github.com/Tensibai/si/pkg/attribute"
)

// ExampleContext_Walk shows the lookup order of a component context: each step drops
// the most specific field until only the prop is left.
func ExampleContext_Walk() {
	c := attribute.Context{
		PropID:          "image",
		SchemaID:        "docker_image",
		SchemaVariantID: "v0",
		ComponentID:     "web",
	}

	for _, level := range c.Walk() {
		fmt.Println(level)
	}
	fmt.Println("steps:", c.CountOptional())
	// Output:
	// (prop=image schema=docker_image variant=v0 component=web)
	// (prop=image schema=docker_image variant=v0)
	// (prop=image schema=docker_image)
	// (prop=image)
	// steps: 3
}

// ExampleContext_Compare orders two contexts of the same prop.
func ExampleContext_Compare() {
	prop := attribute.ForProp("image")
	component := attribute.Context{PropID: "image", SchemaID: "docker_image", ComponentID: "web"}
	other := attribute.Context{PropID: "image", ComponentID: "db"}

	ord, ok := component.Compare(prop)
	fmt.Println(ord == attribute.MoreSpecific, ok)

	_, ok = component.Compare(other)
	fmt.Println(ok)
	// Output:
	// true true
	// false
}
