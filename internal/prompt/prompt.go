// Package prompt builds the model instructions for each generation kind.
// The wording is product content, not code: treat it as opaque strings.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
)

// BaseObjectPrompt is the fixed user prompt sent with every product_3d job.
const BaseObjectPrompt = `Transform this 2D image into an interactive Three.js 3D object.

Give me code that:
1. Generates correct 3D geometries based on the shapes in the image
2. Uses materials that match the colors, styles and textures present in the image
3. Sets up proper lighting to enhance the 3D effect
4. Includes subtle animations to bring the scene to life

Return ONLY the JavaScript code that creates the 3D object.`

// Product3DSystem builds the system instruction for turning one product image
// into a Three.js object.
func Product3DSystem(p domain.ProductData, theme *domain.ShopTheme) string {
	tags := "None"
	if len(p.Tags) > 0 {
		tags = strings.Join(p.Tags, ", ")
	}

	themeBlock := ""
	if theme != nil {
		style := theme.Style
		if style == "" {
			style = "modern"
		}
		themeBlock = fmt.Sprintf("\nTheme Style: %s style with colors %s", style, colorList(theme.Colors))
	}

	return fmt.Sprintf(`You are an expert 3D modeler and Three.js developer who specializes in turning 2D drawings into 3D models.
Your task is to analyze the provided images and create a Three.js object that transforms the 2D image into a realistic 3D representation.

## INTERPRETATION GUIDELINES:
- Analyze the image to identify distinct shapes, objects, and their spatial relationships
- Only create the main object in the image, all surrounding objects should be ignored
- The main object should be a 3D model that is a faithful representation of the 2D drawing

Product Name: %s
Product Type: %s
Description: %s
Tags: %s%s

## TECHNICAL IMPLEMENTATION:
- Do not import any libraries. They have already been imported for you.
- Create a properly structured Three.js object (not scene) with no lighting setup
- Do not include any orbital controls
- Apply realistic materials and textures based on the colors and patterns in the drawing
- Create proper hierarchy of objects with parent-child relationships where appropriate
- Do not include any ambient and directional lighting
- Use proper scaling where 1 unit = approximately 1/10th of the scene width
- Do not include a ground/floor plane for context
- The product should be ready to be placed in a glass display container
- Returning the root group is REQUIRED; the app traverses it and crashes otherwise.

## RESPONSE FORMAT:
Your response must contain only valid JavaScript code for the Three.js object with proper initialization.
Include code comments explaining your reasoning for major design decisions.
Wrap your entire code in backticks with the javascript identifier: `+"```javascript",
		p.Title, p.ProductType, p.Description, tags, themeBlock)
}

// SceneSystem is the system instruction for whole-shop showcase scenes.
const SceneSystem = `You are an expert Three.js developer and 3D scene designer specializing in creating immersive product showcase environments.

Your task is to generate a complete Three.js scene that serves as a beautiful environment for displaying products in glass containers.

## TECHNICAL REQUIREMENTS:
- Do not import any libraries. They have already been imported (THREE, OrbitControls, etc.)
- Create a complete Three.js scene with camera, renderer, and lighting
- Include OrbitControls for user interaction
- The scene should have designated positions for products in glass containers
- Implement a ground/floor that matches the theme
- Add atmospheric elements (lighting, fog, background) that enhance the theme
- Create an animation loop for any dynamic elements
- Make the scene responsive to container size
- Include proper material setup with realistic textures where appropriate

## RESPONSE FORMAT:
Return ONLY valid JavaScript code that creates and animates the Three.js scene.
Include comments explaining major design decisions.
Wrap your entire code in backticks with the javascript identifier: ` + "```javascript"

// ScenePrompt builds the user prompt for a scene job.
func ScenePrompt(r domain.SceneRequest) string {
	style := "modern"
	colors := ""
	if r.Theme != nil {
		if r.Theme.Style != "" {
			style = r.Theme.Style
		}
		colors = colorList(r.Theme.Colors)
	}
	count := r.ProductCount
	if count < 1 {
		count = 1
	}

	return fmt.Sprintf(`Generate a complete Three.js scene for displaying %d products from "%s".

Shop Information:
- Name: %s
- Description: %s
- Theme Style: %s
- Theme Colors: %s

Scene Requirements:
1. Create %d glass display containers arranged in an aesthetically pleasing layout
2. Each container should be a transparent glass cylinder or dome that can hold a product
3. The glass should have realistic material properties (transparency, refraction, slight tint)
4. Containers should be evenly spaced and positioned to showcase products effectively
5. Include a themed floor/ground that reflects the shop's aesthetic (%s)
6. Add atmospheric lighting that enhances the products and matches the color scheme
7. Include subtle ambient elements (fog, background, decorative elements) that fit the theme
8. Add smooth camera controls using OrbitControls
9. Implement a subtle animation (rotating platform, gentle lighting changes, etc.)
10. Make the scene responsive to different screen sizes

Return the complete JavaScript code for this Three.js scene.`,
		count, r.Name, r.Name, r.Description, style, colors, count, style)
}

func colorList(colors map[string]string) string {
	if len(colors) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(colors))
	for k, v := range colors {
		pairs = append(pairs, k+": "+v)
	}
	// Deterministic order keeps prompts stable across runs.
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}
